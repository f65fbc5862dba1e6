package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hubman/internal/middleware"
	"github.com/hitoshi/hubman/internal/model"
	"github.com/hitoshi/hubman/internal/topic"
)

// WebhookManagerInterface はWebhookハンドラーが必要とするマネージャインターフェース。
type WebhookManagerInterface interface {
	// HandleVerification はハブの検証コールバック（GET）を処理する。
	HandleVerification(ctx context.Context, id string, query url.Values) (int, string, error)
	// HandlePush はハブのプッシュ通知（POST、署名検証済み）を処理する。
	HandlePush(ctx context.Context, id string, rawBody []byte) (int, error)
}

// WebhookHandler はハブからのコールバックを処理するHTTPハンドラー。
type WebhookHandler struct {
	manager WebhookManagerInterface
	logger  *slog.Logger
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(manager WebhookManagerInterface, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		manager: manager,
		logger:  logger,
	}
}

// Verify はハブの検証リクエストを処理する。
// GET /webhooks/{topic}/{id}
// 確認・解除確認ではhub.challengeをそのままtext/plainでエコーする。
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id := topic.JoinID(chi.URLParam(r, "topic"), chi.URLParam(r, "id"))

	status, body, err := h.manager.HandleVerification(r.Context(), id, r.URL.Query())
	if err != nil {
		h.logger.Error("検証コールバックの処理に失敗しました",
			slog.String("subscription_id", id),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	if status == http.StatusNotFound {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUnknownWebhookError(id))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// Push はハブのプッシュ通知を処理する。
// POST /webhooks/{topic}/{id}
// 署名ミドルウェアが本文の検証と購読の解決を済ませている前提。
func (h *WebhookHandler) Push(w http.ResponseWriter, r *http.Request) {
	pc, ok := middleware.PushContextFrom(r.Context())
	if !ok {
		// 署名ミドルウェアを通らない配線は構成ミス
		h.logger.Error("署名検証済みコンテキストがありません",
			slog.String("path", r.URL.Path),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	status, err := h.manager.HandlePush(r.Context(), pc.SubscriptionID, pc.Body)
	if err != nil {
		h.logger.Error("プッシュ通知の処理に失敗しました",
			slog.String("subscription_id", pc.SubscriptionID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	if status == http.StatusNotFound {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUnknownWebhookError(pc.SubscriptionID))
		return
	}

	w.WriteHeader(status)
}
