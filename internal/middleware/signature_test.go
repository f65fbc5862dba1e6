package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hubman/internal/model"
	"github.com/hitoshi/hubman/internal/security"
)

type mockResolver struct {
	fn func(ctx context.Context, id string) (*model.Subscription, error)
}

func (m *mockResolver) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	return m.fn(ctx, id)
}

type mockFailureRecorder struct {
	mu    sync.Mutex
	count int
}

func (m *mockFailureRecorder) RecordSignatureFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count++
}

func (m *mockFailureRecorder) failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// signatureTestServer は署名ミドルウェアを実ルーティングに組み込んだテスト構成。
func signatureTestServer(resolver *mockResolver, recorder *mockFailureRecorder, next http.HandlerFunc) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/webhooks/{topic}/{id}", func(r chi.Router) {
		r.Use(NewSignatureMiddleware(resolver, recorder, testLogger()))
		r.Get("/", next)
		r.Post("/", next)
	})
	return r
}

func knownSubscription() *model.Subscription {
	return &model.Subscription{
		ID:        "streams/user_id=42",
		TopicType: model.TopicStream,
		Secret:    "s3cret",
	}
}

// TestSignatureMiddleware_ValidPost は正しい署名のPOSTが検証済み
// コンテキスト付きで後段へ渡ることを検証する。
func TestSignatureMiddleware_ValidPost(t *testing.T) {
	sub := knownSubscription()
	resolver := &mockResolver{
		fn: func(_ context.Context, id string) (*model.Subscription, error) {
			if id != sub.ID {
				t.Errorf("resolved id = %q, want %q", id, sub.ID)
			}
			return sub, nil
		},
	}
	recorder := &mockFailureRecorder{}

	body := []byte(`{"data":[{"id":"1"}]}`)
	var got *PushContext
	router := signatureTestServer(resolver, recorder, func(w http.ResponseWriter, r *http.Request) {
		got, _ = PushContextFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/streams/user_id=42", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature", security.Sign(sub.Secret, body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}
	if got == nil {
		t.Fatal("push context should be set for a verified post")
	}
	if got.SubscriptionID != sub.ID {
		t.Errorf("push context id = %q, want %q", got.SubscriptionID, sub.ID)
	}
	if !bytes.Equal(got.Body, body) {
		t.Errorf("push context body = %q, want the raw body", got.Body)
	}
	if recorder.failures() != 0 {
		t.Errorf("failures = %d, want 0", recorder.failures())
	}
}

// TestSignatureMiddleware_MissingHeader は署名ヘッダー欠落が購読の解決より
// 先に拒否されることを検証する。
func TestSignatureMiddleware_MissingHeader(t *testing.T) {
	resolver := &mockResolver{
		fn: func(context.Context, string) (*model.Subscription, error) {
			t.Error("resolver must not be consulted when the header is missing")
			return knownSubscription(), nil
		},
	}
	recorder := &mockFailureRecorder{}

	reached := false
	router := signatureTestServer(resolver, recorder, func(http.ResponseWriter, *http.Request) {
		reached = true
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/streams/user_id=42", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if reached {
		t.Error("handler must not run without a signature")
	}
	if recorder.failures() != 1 {
		t.Errorf("failures = %d, want 1", recorder.failures())
	}
}

// TestSignatureMiddleware_MissingHeaderUnknownID はヘッダー欠落かつ未知IDの
// 二重失敗でもヘッダー欠落の400が優先されることを検証する。
func TestSignatureMiddleware_MissingHeaderUnknownID(t *testing.T) {
	resolver := &mockResolver{
		fn: func(context.Context, string) (*model.Subscription, error) {
			return nil, nil
		},
	}
	recorder := &mockFailureRecorder{}

	router := signatureTestServer(resolver, recorder, func(http.ResponseWriter, *http.Request) {
		t.Error("handler must not run")
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/streams/user_id=999", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 (missing header outranks unknown id)", rec.Code)
	}
	if recorder.failures() != 1 {
		t.Errorf("failures = %d, want 1", recorder.failures())
	}
}

// TestSignatureMiddleware_BadSignature は署名不一致の拒否を検証する。
func TestSignatureMiddleware_BadSignature(t *testing.T) {
	resolver := &mockResolver{
		fn: func(context.Context, string) (*model.Subscription, error) {
			return knownSubscription(), nil
		},
	}
	recorder := &mockFailureRecorder{}

	reached := false
	router := signatureTestServer(resolver, recorder, func(http.ResponseWriter, *http.Request) {
		reached = true
	})

	body := []byte(`{"data":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/streams/user_id=42", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature", security.Sign("wrong-secret", body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if reached {
		t.Error("handler must not run for a bad signature")
	}
	if recorder.failures() != 1 {
		t.Errorf("failures = %d, want 1", recorder.failures())
	}
}

// TestSignatureMiddleware_UnknownSubscription は未知の購読ID宛POSTが404になることを検証する。
func TestSignatureMiddleware_UnknownSubscription(t *testing.T) {
	resolver := &mockResolver{
		fn: func(context.Context, string) (*model.Subscription, error) {
			return nil, nil
		},
	}
	recorder := &mockFailureRecorder{}

	router := signatureTestServer(resolver, recorder, func(http.ResponseWriter, *http.Request) {
		t.Error("handler must not run for an unknown subscription")
	})

	body := []byte("{}")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/streams/user_id=999", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature", security.Sign("whatever", body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// TestSignatureMiddleware_ResolverError はストア障害が500になることを検証する。
func TestSignatureMiddleware_ResolverError(t *testing.T) {
	resolver := &mockResolver{
		fn: func(context.Context, string) (*model.Subscription, error) {
			return nil, errors.New("storage down")
		},
	}
	recorder := &mockFailureRecorder{}

	router := signatureTestServer(resolver, recorder, func(http.ResponseWriter, *http.Request) {
		t.Error("handler must not run on resolver failure")
	})

	body := []byte("{}")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/streams/user_id=42", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature", security.Sign("whatever", body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

// TestSignatureMiddleware_GetPassesThrough は署名のないGET検証リクエストが
// 素通しされることを検証する。
func TestSignatureMiddleware_GetPassesThrough(t *testing.T) {
	resolver := &mockResolver{
		fn: func(context.Context, string) (*model.Subscription, error) {
			t.Error("resolver must not be called for GET")
			return nil, nil
		},
	}
	recorder := &mockFailureRecorder{}

	reached := false
	router := signatureTestServer(resolver, recorder, func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/webhooks/streams/user_id=42?hub.mode=subscribe&hub.challenge=c", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if !reached {
		t.Error("GET should reach the handler without signature verification")
	}
}
