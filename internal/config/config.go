// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Hub
	HubURL       string        // デフォルトのハブエンドポイント
	TopicBaseURL string        // JSONトピックのhref構築に使用するAPIベースURL
	HubTimeout   time.Duration // ハブリクエストのタイムアウト
	ClientID     string        // ハブに送信するクライアント識別子
	ClientSecret string
	TokenURL     string // client_credentialsグラントのトークンエンドポイント

	// Subscription
	LeaseSeconds       int           // 購読リース秒数のデフォルト
	RenewBefore        time.Duration // リース満了のどれだけ前に更新するか
	RenewInterval      time.Duration // 更新スケジューラの実行間隔（0で無効）
	RenewMaxConcurrent int           // 更新の最大並列数
	PendingTTL         time.Duration // 確認待ちレコードの掃除までの猶予

	// Callback
	CallbackBaseURL string // ハブに通知するコールバックURLのベース

	// Database
	DatabaseURL string // 空の場合はインメモリストアを使用する

	// Rate Limit
	RateLimitCallback int // コールバックエンドポイントのreq/min/IP
	RateLimitAPI      int // 管理APIのreq/min/IP

	// Cleanup
	CleanupInterval time.Duration

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.HubURL = os.Getenv("HUB_URL")
	if cfg.HubURL == "" {
		missing = append(missing, "HUB_URL")
	}

	cfg.CallbackBaseURL = os.Getenv("CALLBACK_BASE_URL")
	if cfg.CallbackBaseURL == "" {
		missing = append(missing, "CALLBACK_BASE_URL")
	}

	cfg.ClientID = os.Getenv("CLIENT_ID")
	if cfg.ClientID == "" {
		missing = append(missing, "CLIENT_ID")
	}

	cfg.ClientSecret = os.Getenv("CLIENT_SECRET")
	if cfg.ClientSecret == "" {
		missing = append(missing, "CLIENT_SECRET")
	}

	cfg.TokenURL = os.Getenv("TOKEN_URL")
	if cfg.TokenURL == "" {
		missing = append(missing, "TOKEN_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.TopicBaseURL = getEnvString("TOPIC_BASE_URL", cfg.HubURL)
	cfg.HubTimeout = getEnvDuration("HUB_TIMEOUT", 10*time.Second)
	cfg.LeaseSeconds = getEnvInt("LEASE_SECONDS", 864000)
	cfg.RenewBefore = getEnvDuration("RENEW_BEFORE", 2*time.Hour)
	cfg.RenewInterval = getEnvDuration("RENEW_INTERVAL", time.Hour)
	cfg.RenewMaxConcurrent = getEnvInt("RENEW_MAX_CONCURRENT", 10)
	cfg.PendingTTL = getEnvDuration("PENDING_TTL", time.Hour)
	cfg.DatabaseURL = getEnvString("DATABASE_URL", "")
	cfg.RateLimitCallback = getEnvInt("RATE_LIMIT_CALLBACK", 300)
	cfg.RateLimitAPI = getEnvInt("RATE_LIMIT_API", 120)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 10*time.Minute)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
