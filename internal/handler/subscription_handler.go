package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hubman/internal/model"
	"github.com/hitoshi/hubman/internal/subscription"
	"github.com/hitoshi/hubman/internal/topic"
)

// SubscriptionManagerInterface は購読ハンドラーが必要とするマネージャインターフェース。
type SubscriptionManagerInterface interface {
	// Subscribe は購読を開始し、導出した購読IDを返す。
	Subscribe(ctx context.Context, req subscription.SubscribeRequest) (string, error)
	// Unsubscribe は購読解除をハブへ要求する。
	Unsubscribe(ctx context.Context, id string) error
	// UnsubscribeAll は全購読の解除を発行し、ハブからの解除確認を待つ。
	UnsubscribeAll(ctx context.Context) error
	// Resubscribe は購読の更新をハブへ要求する。
	Resubscribe(ctx context.Context, id string) error
	// List は全購読を返す。
	List(ctx context.Context) ([]*model.Subscription, error)
}

// SubscriptionHandler は購読管理APIのHTTPハンドラー。
type SubscriptionHandler struct {
	manager SubscriptionManagerInterface
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(manager SubscriptionManagerInterface) *SubscriptionHandler {
	return &SubscriptionHandler{manager: manager}
}

// createSubscriptionRequest は購読作成リクエストのボディ。
type createSubscriptionRequest struct {
	Type         string            `json:"type"`
	Params       map[string]string `json:"params"`
	LeaseSeconds int               `json:"lease_seconds"`
	UserID       string            `json:"user_id"`
}

// subscriptionResponse は購読情報のAPIレスポンス。
type subscriptionResponse struct {
	ID                string     `json:"id"`
	Type              string     `json:"type"`
	Href              string     `json:"href"`
	HubURL            string     `json:"hub_url,omitempty"`
	LeaseSeconds      int        `json:"lease_seconds"`
	Subscribed        bool       `json:"subscribed"`
	SubscriptionStart *time.Time `json:"subscription_start,omitempty"`
	SubscriptionEnd   *time.Time `json:"subscription_end,omitempty"`
	UserID            string     `json:"user_id,omitempty"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// CreateSubscription は購読作成を処理する。
// POST /api/subscriptions
// ハブの確認コールバックが届くまで購読は確認待ちのため202を返す。
func (h *SubscriptionHandler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	params := url.Values{}
	for k, v := range req.Params {
		params.Set(k, v)
	}

	id, err := h.manager.Subscribe(r.Context(), subscription.SubscribeRequest{
		TopicType:    model.TopicType(req.Type),
		Params:       params,
		LeaseSeconds: req.LeaseSeconds,
		UserID:       req.UserID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

// ListSubscriptions は購読一覧を取得する。
// GET /api/subscriptions
func (h *SubscriptionHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.manager.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]subscriptionResponse, len(subs))
	for i, sub := range subs {
		results[i] = toSubscriptionResponse(sub)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// Unsubscribe は購読解除を処理する。
// DELETE /api/subscriptions/{topic}/{id}
// レコードはハブの解除確認が届くまで残るため202を返す。
func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id := subscriptionIDFromPath(r)

	if err := h.manager.Unsubscribe(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// UnsubscribeAll は全購読の一括解除を処理する。
// DELETE /api/subscriptions
// ハブからの解除確認をすべて待ってから返るため、
// リクエストコンテキストの期限が待機の上限になる。
func (h *SubscriptionHandler) UnsubscribeAll(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.UnsubscribeAll(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Renew は購読リースの即時更新を処理する。
// POST /api/subscriptions/{topic}/{id}/renew
func (h *SubscriptionHandler) Renew(w http.ResponseWriter, r *http.Request) {
	id := subscriptionIDFromPath(r)

	if err := h.manager.Resubscribe(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// subscriptionIDFromPath はAPIパスの要素から購読IDを再構築する。
// パス形式はコールバックURLと同一（/{topic}/{エスケープ済みクエリ}）。
func subscriptionIDFromPath(r *http.Request) string {
	return topic.JoinID(chi.URLParam(r, "topic"), chi.URLParam(r, "id"))
}

// toSubscriptionResponse はドメインのSubscriptionをhandlerのレスポンス型に変換する。
func toSubscriptionResponse(sub *model.Subscription) subscriptionResponse {
	resp := subscriptionResponse{
		ID:           sub.ID,
		Type:         string(sub.TopicType),
		Href:         sub.Href,
		HubURL:       sub.HubURL,
		LeaseSeconds: sub.LeaseSeconds,
		Subscribed:   sub.Subscribed,
		UserID:       sub.AssociatedUser,
	}
	if sub.Subscribed {
		start := sub.SubscriptionStart
		end := sub.SubscriptionEnd
		resp.SubscriptionStart = &start
		resp.SubscriptionEnd = &end
	}
	return resp
}

// writeAPIErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var hubErr *model.HubRequestError
	if errors.As(err, &hubErr) {
		writeAPIErrorResponse(w, http.StatusBadGateway, &model.APIError{
			Code:     model.ErrCodeHubRequestFailed,
			Message:  hubErr.Error(),
			Category: "hub",
			Action:   "ハブの状態を確認し、しばらく待ってから再度お試しください。",
		})
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorのコードをHTTPステータスコードにマップする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidationFailed, model.ErrCodeUnsupportedTopic:
		return http.StatusBadRequest
	case model.ErrCodeSubscriptionNotFound, model.ErrCodeUnknownWebhook:
		return http.StatusNotFound
	case model.ErrCodeSubscriptionDenied:
		return http.StatusConflict
	case model.ErrCodeSignatureInvalid:
		return http.StatusBadRequest
	case model.ErrCodeHubRequestFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
