package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, subscription, hub, signature, system
	Action   string // 呼び出し元向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed     = "VALIDATION_FAILED"
	ErrCodeSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeSubscriptionDenied   = "SUBSCRIPTION_DENIED"
	ErrCodeSignatureInvalid     = "SIGNATURE_INVALID"
	ErrCodeUnknownWebhook       = "UNKNOWN_WEBHOOK"
	ErrCodeUnsupportedTopic     = "UNSUPPORTED_TOPIC"
	ErrCodeHubRequestFailed     = "HUB_REQUEST_FAILED"
)

// NewValidationError は必須購読パラメータ欠落エラーを生成する。
// ネットワーク呼び出しの前に同期的に返される呼び出し元エラー。
func NewValidationError(param string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("必須のトピックパラメータが指定されていません: %s", param),
		Category: "validation",
		Action:   "トピック種別に必要なパラメータをすべて指定してください。",
	}
}

// NewSubscriptionNotFoundError は購読が見つからない場合のエラーを生成する。
func NewSubscriptionNotFoundError(subscriptionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  fmt.Sprintf("指定された購読が見つかりません: %s", subscriptionID),
		Category: "subscription",
		Action:   "購読IDを確認してください。",
	}
}

// defaultDenialReason はハブが理由を返さなかった場合の既定の拒否理由。
const defaultDenialReason = "ハブから拒否理由は通知されていません"

// NewSubscriptionDeniedError はハブが購読を明示的に拒否した場合のエラーを生成する。
// reasonが空の場合は既定の理由文を使用する。
func NewSubscriptionDeniedError(subscriptionID, reason string) *APIError {
	if reason == "" {
		reason = defaultDenialReason
	}
	return &APIError{
		Code:     ErrCodeSubscriptionDenied,
		Message:  fmt.Sprintf("ハブが購読を拒否しました: %s (%s)", subscriptionID, reason),
		Category: "subscription",
		Action:   "トピックパラメータとアクセストークンの権限を確認してください。",
	}
}

// NewUnsupportedTopicError はサポート外のトピック種別エラーを生成する。
func NewUnsupportedTopicError(topicType string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedTopic,
		Message:  fmt.Sprintf("サポートされていないトピック種別です: %s", topicType),
		Category: "validation",
		Action:   "streams、users、follows、feed のいずれかを指定してください。",
	}
}

// NewUnknownWebhookError は未知の購読IDへのコールバックエラーを生成する。
func NewUnknownWebhookError(subscriptionID string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownWebhook,
		Message:  fmt.Sprintf("未知のWebhookコールバックです: %s", subscriptionID),
		Category: "subscription",
		Action:   "購読が解除済みでないか確認してください。",
	}
}

// NewSignatureInvalidError は署名検証失敗エラーを生成する。
// 検証の詳細を漏らさないため、メッセージには署名情報を含めない。
func NewSignatureInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeSignatureInvalid,
		Message:  "リクエスト署名の検証に失敗しました。",
		Category: "signature",
		Action:   "購読シークレットでHMAC-SHA256署名を計算し直してください。",
	}
}

// HubRequestError はハブが2xx以外のステータスを返した場合のエラーを表す。
// 401リトライポリシーを使い切った後に、レスポンスのステータスとボディから構築される。
type HubRequestError struct {
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *HubRequestError) Error() string {
	return fmt.Sprintf("ハブリクエストがステータス %d で失敗しました: %s", e.StatusCode, e.Body)
}
