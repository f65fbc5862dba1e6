package config

import (
	"strings"
	"testing"
	"time"
)

// setRequiredEnv は必須環境変数を一括設定する。
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HUB_URL", "https://hub.example.com/hub")
	t.Setenv("CALLBACK_BASE_URL", "https://sub.example.com/webhooks")
	t.Setenv("CLIENT_ID", "client-id")
	t.Setenv("CLIENT_SECRET", "client-secret")
	t.Setenv("TOKEN_URL", "https://id.example.com/oauth2/token")
}

// TestLoad_Defaults は必須のみ設定した場合のデフォルト値を検証する。
func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.TopicBaseURL != cfg.HubURL {
		t.Errorf("TopicBaseURL = %q, want HubURL fallback", cfg.TopicBaseURL)
	}
	if cfg.HubTimeout != 10*time.Second {
		t.Errorf("HubTimeout = %v, want 10s", cfg.HubTimeout)
	}
	if cfg.LeaseSeconds != 864000 {
		t.Errorf("LeaseSeconds = %d, want 864000", cfg.LeaseSeconds)
	}
	if cfg.RenewBefore != 2*time.Hour {
		t.Errorf("RenewBefore = %v, want 2h", cfg.RenewBefore)
	}
	if cfg.RenewInterval != time.Hour {
		t.Errorf("RenewInterval = %v, want 1h", cfg.RenewInterval)
	}
	if cfg.RenewMaxConcurrent != 10 {
		t.Errorf("RenewMaxConcurrent = %d, want 10", cfg.RenewMaxConcurrent)
	}
	if cfg.PendingTTL != time.Hour {
		t.Errorf("PendingTTL = %v, want 1h", cfg.PendingTTL)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty (in-memory)", cfg.DatabaseURL)
	}
	if cfg.RateLimitCallback != 300 {
		t.Errorf("RateLimitCallback = %d, want 300", cfg.RateLimitCallback)
	}
	if cfg.RateLimitAPI != 120 {
		t.Errorf("RateLimitAPI = %d, want 120", cfg.RateLimitAPI)
	}
	if cfg.CleanupInterval != 10*time.Minute {
		t.Errorf("CleanupInterval = %v, want 10m", cfg.CleanupInterval)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
}

// TestLoad_MissingRequired は必須環境変数の欠落がエラーになることを検証する。
func TestLoad_MissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("HUB_URL", "")
	t.Setenv("TOKEN_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing required variables")
	}
	if !strings.Contains(err.Error(), "HUB_URL") || !strings.Contains(err.Error(), "TOKEN_URL") {
		t.Errorf("error should name all missing variables: %v", err)
	}
}

// TestLoad_Overrides は環境変数による上書きを検証する。
func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TOPIC_BASE_URL", "https://api.example.com")
	t.Setenv("HUB_TIMEOUT", "30s")
	t.Setenv("LEASE_SECONDS", "3600")
	t.Setenv("RENEW_INTERVAL", "0s")
	t.Setenv("DATABASE_URL", "postgres://hubman:pass@db:5432/hubman?sslmode=disable")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.TopicBaseURL != "https://api.example.com" {
		t.Errorf("TopicBaseURL = %q", cfg.TopicBaseURL)
	}
	if cfg.HubTimeout != 30*time.Second {
		t.Errorf("HubTimeout = %v, want 30s", cfg.HubTimeout)
	}
	if cfg.LeaseSeconds != 3600 {
		t.Errorf("LeaseSeconds = %d, want 3600", cfg.LeaseSeconds)
	}
	if cfg.RenewInterval != 0 {
		t.Errorf("RenewInterval = %v, want 0 (disabled)", cfg.RenewInterval)
	}
	if cfg.DatabaseURL == "" {
		t.Error("DatabaseURL should be set")
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want 9090", cfg.ServerPort)
	}
}

// TestLoad_InvalidValuesFallBack は解析できない値がデフォルトへ戻ることを検証する。
func TestLoad_InvalidValuesFallBack(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LEASE_SECONDS", "not-a-number")
	t.Setenv("HUB_TIMEOUT", "eleven seconds")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.LeaseSeconds != 864000 {
		t.Errorf("LeaseSeconds = %d, want default 864000", cfg.LeaseSeconds)
	}
	if cfg.HubTimeout != 10*time.Second {
		t.Errorf("HubTimeout = %v, want default 10s", cfg.HubTimeout)
	}
}
