package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestLoggingMiddleware_RequestID はリクエストIDの採番と伝播を検証する。
func TestLoggingMiddleware_RequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var ctxRequestID string
	handler := NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxRequestID = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/subscriptions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	headerID := rec.Header().Get("X-Request-Id")
	if headerID == "" {
		t.Fatal("X-Request-Id header should be set")
	}
	if ctxRequestID != headerID {
		t.Errorf("context request id = %q, header = %q, want equal", ctxRequestID, headerID)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["request_id"] != headerID {
		t.Errorf("logged request_id = %v, want %q", entry["request_id"], headerID)
	}
	if entry["status"] != float64(http.StatusNoContent) {
		t.Errorf("logged status = %v, want %d", entry["status"], http.StatusNoContent)
	}
	if entry["method"] != http.MethodGet {
		t.Errorf("logged method = %v, want GET", entry["method"])
	}
}

// TestLoggingMiddleware_DistinctIDs はリクエストごとに異なるIDが振られることを検証する。
func TestLoggingMiddleware_DistinctIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ids := map[string]bool{}
	for range 3 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		ids[rec.Header().Get("X-Request-Id")] = true
	}
	if len(ids) != 3 {
		t.Errorf("distinct request ids = %d, want 3", len(ids))
	}
}

// TestRequestIDFromContext_Missing はID未設定のコンテキストで空文字を返すことを検証する。
func TestRequestIDFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := RequestIDFromContext(req.Context()); got != "" {
		t.Errorf("RequestIDFromContext = %q, want empty", got)
	}
}
