package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	CallbackRate    rate.Limit    // コールバック受信のレート（req/sec）。300/60 = 5 req/sec
	CallbackBurst   int           // コールバック受信のバーストサイズ
	APIRate         rate.Limit    // 管理API全般のレート（req/sec）。120/60 = 2 req/sec
	APIBurst        int           // 管理API全般のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// コールバック 300 req/min/IP、管理API 120 req/min/IP。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		CallbackRate:    rate.Limit(300.0 / 60.0), // 5 req/sec
		CallbackBurst:   300,
		APIRate:         rate.Limit(120.0 / 60.0), // 2 req/sec
		APIBurst:        120,
		CleanupInterval: 5 * time.Minute,
	}
}

// ipLimiter は送信元IPごとのレートリミッターとアクセス時刻を保持する。
type ipLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter は送信元IPごとのレート制限を管理する。
// ハブからのコールバック受信と管理APIの2種類の制限クラスを提供する。
type RateLimiter struct {
	config RateLimiterConfig

	callbackMu       sync.RWMutex
	callbackLimiters map[string]*ipLimiter

	apiMu       sync.RWMutex
	apiLimiters map[string]*ipLimiter

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:           config,
		callbackLimiters: make(map[string]*ipLimiter),
		apiLimiters:      make(map[string]*ipLimiter),
		stopCh:           make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// CallbackMiddleware はコールバック受信のレート制限ミドルウェアを返す。
// 制限キーは送信元IPアドレス。
func (rl *RateLimiter) CallbackMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			limiter := rl.getOrCreateCallbackLimiter(ip)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.CallbackRate)
				slog.Warn("rate limit exceeded",
					slog.String("remote_ip", ip),
					slog.String("limit_type", "callback"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// APIMiddleware は管理APIのレート制限ミドルウェアを返す。
// コールバック受信のレート制限とは独立に動作する。
func (rl *RateLimiter) APIMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			limiter := rl.getOrCreateAPILimiter(ip)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.APIRate)
				slog.Warn("rate limit exceeded",
					slog.String("remote_ip", ip),
					slog.String("limit_type", "api"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CallbackLimiterCount は現在管理されているコールバックリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) CallbackLimiterCount() int {
	rl.callbackMu.RLock()
	defer rl.callbackMu.RUnlock()
	return len(rl.callbackLimiters)
}

// APILimiterCount は現在管理されている管理APIリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) APILimiterCount() int {
	rl.apiMu.RLock()
	defer rl.apiMu.RUnlock()
	return len(rl.apiLimiters)
}

// getOrCreateCallbackLimiter は送信元IPのコールバックリミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateCallbackLimiter(ip string) *rate.Limiter {
	rl.callbackMu.RLock()
	il, exists := rl.callbackLimiters[ip]
	rl.callbackMu.RUnlock()

	if exists {
		rl.callbackMu.Lock()
		il.lastAccess = time.Now()
		rl.callbackMu.Unlock()
		return il.limiter
	}

	rl.callbackMu.Lock()
	defer rl.callbackMu.Unlock()

	// ダブルチェック
	if il, exists := rl.callbackLimiters[ip]; exists {
		il.lastAccess = time.Now()
		return il.limiter
	}

	limiter := rate.NewLimiter(rl.config.CallbackRate, rl.config.CallbackBurst)
	rl.callbackLimiters[ip] = &ipLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// getOrCreateAPILimiter は送信元IPの管理APIリミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateAPILimiter(ip string) *rate.Limiter {
	rl.apiMu.RLock()
	il, exists := rl.apiLimiters[ip]
	rl.apiMu.RUnlock()

	if exists {
		rl.apiMu.Lock()
		il.lastAccess = time.Now()
		rl.apiMu.Unlock()
		return il.limiter
	}

	rl.apiMu.Lock()
	defer rl.apiMu.Unlock()

	// ダブルチェック
	if il, exists := rl.apiLimiters[ip]; exists {
		il.lastAccess = time.Now()
		return il.limiter
	}

	limiter := rate.NewLimiter(rl.config.APIRate, rl.config.APIBurst)
	rl.apiLimiters[ip] = &ipLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2

	now := time.Now()

	rl.callbackMu.Lock()
	for ip, il := range rl.callbackLimiters {
		if now.Sub(il.lastAccess) > ttl {
			delete(rl.callbackLimiters, ip)
		}
	}
	rl.callbackMu.Unlock()

	rl.apiMu.Lock()
	for ip, il := range rl.apiLimiters {
		if now.Sub(il.lastAccess) > ttl {
			delete(rl.apiLimiters, ip)
		}
	}
	rl.apiMu.Unlock()
}

// clientIP はリクエストの送信元IPアドレスを返す。
// ポート番号は取り除く。解析できない場合はRemoteAddrをそのまま使う。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	// Retry-Afterの算出: 1トークンが補充されるまでの秒数
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(map[string]string{
		"code":     "rate_limit_exceeded",
		"message":  "Too many requests. Please try again later.",
		"category": "system",
		"action":   "Please wait and retry after the specified time.",
	})
}
