package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hubman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	RateLimiter       *middleware.RateLimiter
	Resolver          middleware.SubscriptionResolver
	SignatureRecorder middleware.SignatureFailureRecorder

	// コールバック・API
	WebhookManager      WebhookManagerInterface
	SubscriptionManager SubscriptionManagerInterface

	// /metrics のPrometheusハンドラー
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware → RateLimitMiddleware → (SignatureMiddleware)
//
// 署名ゲートはコールバックルートのPOSTにのみ効く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	webhookHandler := NewWebhookHandler(deps.WebhookManager, deps.Logger)
	subHandler := NewSubscriptionHandler(deps.SubscriptionManager)

	// ヘルスチェック（レート制限の対象外）
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// ハブからのコールバック
	// ミドルウェアスタック: RateLimit(Callback) → Signature(POSTのみ)
	r.Route("/webhooks/{topic}/{id}", func(r chi.Router) {
		r.Use(deps.RateLimiter.CallbackMiddleware())
		r.Use(middleware.NewSignatureMiddleware(deps.Resolver, deps.SignatureRecorder, deps.Logger))

		r.Get("/", webhookHandler.Verify)
		r.Post("/", webhookHandler.Push)
	})

	// 購読管理API
	r.Route("/api/subscriptions", func(r chi.Router) {
		r.Use(deps.RateLimiter.APIMiddleware())

		r.Post("/", subHandler.CreateSubscription)
		r.Get("/", subHandler.ListSubscriptions)
		r.Delete("/", subHandler.UnsubscribeAll)

		r.Route("/{topic}/{id}", func(r chi.Router) {
			r.Delete("/", subHandler.Unsubscribe)
			r.Post("/renew", subHandler.Renew)
		})
	})

	return r
}
