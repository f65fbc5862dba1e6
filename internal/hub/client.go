// Package hub はハブへのアウトバウンド購読リクエストを提供する。
// 401時のトークン再取得と1回限りのリトライを含む。
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/hubman/internal/metrics"
	"github.com/hitoshi/hubman/internal/model"
	"github.com/hitoshi/hubman/internal/topic"
)

// maxErrorBodySize はエラー構築時に読み取るレスポンスボディの上限。
const maxErrorBodySize = 4096

// TokenSource はアクセストークン解決のインターフェース。
// userIDが空の場合はアプリケーション資格情報のトークンを返す。
type TokenSource interface {
	// Token は有効なアクセストークンを返す。
	Token(ctx context.Context, userID string) (string, error)
	// Refresh はトークンを強制的に再取得して返す。
	Refresh(ctx context.Context, userID string) (string, error)
}

// ClientConfig はハブクライアントの設定。
type ClientConfig struct {
	// HubURL は購読リクエストを送るデフォルトのハブエンドポイント。
	// レコードにHubURLが設定されている場合はそちらを優先する。
	HubURL string
	// CallbackBaseURL はハブに通知するコールバックURLのベース。
	CallbackBaseURL string
	// ClientID はハブに送信するクライアント識別子ヘッダーの値。
	ClientID string
}

// Client はハブへの購読・購読解除リクエストを発行する。
// リトライはセマンティクスレベル（401時のトークン再取得1回）のみで、
// トランスポートレベルのリトライは行わない。
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientにはハブリクエストのタイムアウト（10秒）を設定したクライアントを渡す。
func NewClient(config ClientConfig, httpClient *http.Client, tokens TokenSource, logger *slog.Logger, collector metrics.MetricsCollector) *Client {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Client{
		config:     config,
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
		metrics:    collector,
	}
}

// hubRequestBody はハブに送信する購読リクエストのボディ。
type hubRequestBody struct {
	Callback     string `json:"hub.callback"`
	Mode         string `json:"hub.mode"`
	Topic        string `json:"hub.topic"`
	LeaseSeconds int    `json:"hub.lease_seconds"`
	Secret       string `json:"hub.secret"`
}

// ChangeSubscription はハブへ購読（subscribe=true）または購読解除（subscribe=false）を要求する。
// 2xxで成功（検証は後続のインバウンドコールバックで行われる）。
// 401の場合はトークンを再取得してちょうど1回だけリトライする。
// それ以外の非2xxは即座にHubRequestErrorとして失敗する。
// 再購読（リース延長）も同じ関数でsubscribe=trueとして発行する。
func (c *Client) ChangeSubscription(ctx context.Context, sub *model.Subscription, subscribe bool) error {
	mode := "subscribe"
	if !subscribe {
		mode = "unsubscribe"
	}

	body := hubRequestBody{
		Callback:     topic.CallbackURL(c.config.CallbackBaseURL, sub.ID),
		Mode:         mode,
		Topic:        sub.Href,
		LeaseSeconds: sub.LeaseSeconds,
		Secret:       sub.Secret,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("ハブリクエストボディの構築に失敗しました: %w", err)
	}

	token, err := c.tokens.Token(ctx, sub.AssociatedUser)
	if err != nil {
		return fmt.Errorf("アクセストークンの解決に失敗しました: %w", err)
	}

	start := time.Now()
	resp, err := c.post(ctx, sub, payload, token)
	if err != nil {
		return err
	}
	c.metrics.RecordHubLatency(time.Since(start))
	c.metrics.RecordHubRequest(resp.statusCode)

	if resp.ok() {
		c.logger.Info("ハブリクエストが成功しました",
			slog.String("subscription_id", sub.ID),
			slog.String("mode", mode),
			slog.Int("http_status", resp.statusCode),
		)
		return nil
	}

	// 401はトークン失効とみなし、再取得してちょうど1回リトライする
	if resp.statusCode == http.StatusUnauthorized {
		c.logger.Warn("ハブが401を返したためトークンを再取得してリトライします",
			slog.String("subscription_id", sub.ID),
			slog.String("mode", mode),
		)
		c.metrics.RecordHubRetry()

		token, err = c.tokens.Refresh(ctx, sub.AssociatedUser)
		if err != nil {
			return fmt.Errorf("アクセストークンの再取得に失敗しました: %w", err)
		}

		resp, err = c.post(ctx, sub, payload, token)
		if err != nil {
			return err
		}
		c.metrics.RecordHubRequest(resp.statusCode)

		if resp.ok() {
			return nil
		}
	}

	c.logger.Error("ハブリクエストが失敗しました",
		slog.String("subscription_id", sub.ID),
		slog.String("mode", mode),
		slog.Int("http_status", resp.statusCode),
	)

	return &model.HubRequestError{StatusCode: resp.statusCode, Body: resp.body}
}

// hubResponse はハブレスポンスの要約。
type hubResponse struct {
	statusCode int
	body       string
}

// ok は2xxかどうかを返す。
func (r hubResponse) ok() bool {
	return r.statusCode >= 200 && r.statusCode < 300
}

// post はハブへ1回のHTTPリクエストを発行する。
// レコードにHubURLが設定されている場合はそちらへ送信する。
func (c *Client) post(ctx context.Context, sub *model.Subscription, payload []byte, token string) (hubResponse, error) {
	hubURL := c.config.HubURL
	if sub.HubURL != "" {
		hubURL = sub.HubURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hubURL, bytes.NewReader(payload))
	if err != nil {
		return hubResponse{}, fmt.Errorf("ハブリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Client-Id", c.config.ClientID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return hubResponse{}, fmt.Errorf("ハブリクエストの送信に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return hubResponse{}, fmt.Errorf("ハブレスポンスの読み取りに失敗しました: %w", err)
	}

	return hubResponse{statusCode: resp.StatusCode, body: string(body)}, nil
}
