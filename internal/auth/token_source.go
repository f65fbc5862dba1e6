// Package auth はハブリクエストに使用するアクセストークンの解決を提供する。
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// UserTokenStore はユーザースコープのトークン解決のインターフェース。
// ユーザースコープのトピックを使用する場合に外部から注入する。
type UserTokenStore interface {
	// AccessToken は指定ユーザーの有効なアクセストークンを返す。
	AccessToken(ctx context.Context, userID string) (string, error)
	// Refresh は指定ユーザーのトークンを再取得して返す。
	Refresh(ctx context.Context, userID string) (string, error)
}

// ServiceConfig はトークンサービスの設定。
type ServiceConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// Service はアプリケーショントークンとユーザートークンの解決を行う。
// アプリケーショントークンはclient_credentialsグラントで取得し、
// 有効期限までキャッシュする。ユーザートークンはUserTokenStoreへ委譲する。
type Service struct {
	config     ServiceConfig
	httpClient *http.Client
	userTokens UserTokenStore // nilの場合、ユーザースコープのトピックは使用不可

	mu          sync.Mutex
	appToken    string
	appTokenExp time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// userTokensにはユーザースコープのトークン解決を注入する（不要な場合はnil）。
func NewService(config ServiceConfig, httpClient *http.Client, userTokens UserTokenStore) *Service {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Service{
		config:     config,
		httpClient: httpClient,
		userTokens: userTokens,
	}
}

// tokenResponse はトークンエンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token は購読に使用するアクセストークンを返す。
// userIDが空の場合はアプリケーショントークン（キャッシュ済みなら再利用）、
// 指定された場合はそのユーザーのトークンを返す。
func (s *Service) Token(ctx context.Context, userID string) (string, error) {
	if userID != "" {
		if s.userTokens == nil {
			return "", fmt.Errorf("ユーザートークンストアが設定されていません: %s", userID)
		}
		return s.userTokens.AccessToken(ctx, userID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.appToken != "" && time.Now().Before(s.appTokenExp) {
		return s.appToken, nil
	}

	return s.fetchAppTokenLocked(ctx)
}

// Refresh はトークンを強制的に再取得して返す。
// ハブが401を返した場合の1回限りのリトライで使用される。
func (s *Service) Refresh(ctx context.Context, userID string) (string, error) {
	if userID != "" {
		if s.userTokens == nil {
			return "", fmt.Errorf("ユーザートークンストアが設定されていません: %s", userID)
		}
		return s.userTokens.Refresh(ctx, userID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.appToken = ""
	return s.fetchAppTokenLocked(ctx)
}

// fetchAppTokenLocked はclient_credentialsグラントでアプリケーショントークンを取得する。
// 呼び出し側がs.muを保持していること。
func (s *Service) fetchAppTokenLocked(ctx context.Context) (string, error) {
	data := url.Values{
		"client_id":     {s.config.ClientID},
		"client_secret": {s.config.ClientSecret},
		"grant_type":    {"client_credentials"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("トークンリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("トークンリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("トークンレスポンスの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("トークンエンドポイントがステータス %d を返しました: %s", resp.StatusCode, string(body))
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("トークンレスポンスの解析に失敗しました: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("トークンレスポンスにアクセストークンが含まれていません")
	}

	s.appToken = tokenResp.AccessToken
	// 期限ぎわの使い回しを避けるため1分早めに失効扱いにする
	s.appTokenExp = time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - time.Minute)

	return s.appToken, nil
}
