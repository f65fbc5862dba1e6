package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hubman/internal/model"
	"github.com/hitoshi/hubman/internal/security"
	"github.com/hitoshi/hubman/internal/topic"
)

// maxPushBodySize はコールバック本文の最大サイズ（1MiB）。
const maxPushBodySize = 1 << 20

// SubscriptionResolver は署名検証に必要な購読レコードの解決インターフェース。
// repository.SubscriptionRepositoryがこれを満たす。
type SubscriptionResolver interface {
	// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Subscription, error)
}

// SignatureFailureRecorder は署名検証失敗のメトリクス記録インターフェース。
type SignatureFailureRecorder interface {
	RecordSignatureFailure()
}

type pushContextKey struct{}

// PushContext は署名検証を通過したPOSTコールバックの検証済みコンテキスト。
// 後段のハンドラは本文の再読込や購読の再解決を行わずにこれを使う。
type PushContext struct {
	SubscriptionID string
	Subscription   *model.Subscription
	Body           []byte
}

// PushContextFrom はリクエストコンテキストから検証済みコンテキストを取得する。
func PushContextFrom(ctx context.Context) (*PushContext, bool) {
	pc, ok := ctx.Value(pushContextKey{}).(*PushContext)
	return pc, ok
}

// NewSignatureMiddleware はコールバックPOSTの署名検証ゲートを生成する。
//
// すべてのPOST配信について、本文に対するHMAC-SHA256署名を
// X-Hub-Signatureヘッダーと照合する。署名ヘッダーの欠落は購読の解決より先に
// 拒否し、不一致も本文を処理せずに拒否する。どちらも同一のメトリクス経路を通る。
// ハブの検証リクエスト（GET）は署名を持たないため素通しする。
func NewSignatureMiddleware(resolver SubscriptionResolver, recorder SignatureFailureRecorder, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			id := topic.JoinID(chi.URLParam(r, "topic"), chi.URLParam(r, "id"))

			header := r.Header.Get("X-Hub-Signature")
			if header == "" {
				recorder.RecordSignatureFailure()
				logger.Warn("署名ヘッダーのないコールバックを拒否しました",
					slog.String("subscription_id", id),
				)
				WriteErrorResponse(w, http.StatusBadRequest, model.NewSignatureInvalidError())
				return
			}

			sub, err := resolver.FindByID(r.Context(), id)
			if err != nil {
				logger.Error("購読レコードの取得に失敗しました",
					slog.String("subscription_id", id),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if sub == nil {
				logger.Warn("未知の購読宛のコールバックを拒否しました",
					slog.String("subscription_id", id),
				)
				WriteErrorResponse(w, http.StatusNotFound, model.NewUnknownWebhookError(id))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxPushBodySize))
			if err != nil {
				logger.Warn("コールバック本文の読み込みに失敗しました",
					slog.String("subscription_id", id),
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("本文を読み込めませんでした。"))
				return
			}

			if !security.VerifySignature(sub.Secret, body, header) {
				recorder.RecordSignatureFailure()
				logger.Warn("署名検証に失敗したコールバックを拒否しました",
					slog.String("subscription_id", id),
				)
				WriteErrorResponse(w, http.StatusBadRequest, model.NewSignatureInvalidError())
				return
			}

			ctx := context.WithValue(r.Context(), pushContextKey{}, &PushContext{
				SubscriptionID: id,
				Subscription:   sub,
				Body:           body,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
