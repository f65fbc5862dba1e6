// Package subscription は購読ライフサイクルのドメインロジックを提供する。
//
// 購読・確認・拒否・更新・解除の全状態遷移を駆動し、
// 各遷移で何を永続化し何をイベントとして発行するかを決定する。
// 永続化ストアへの書き込みはこのパッケージのManagerのみが行う。
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hitoshi/hubman/internal/discovery"
	"github.com/hitoshi/hubman/internal/events"
	"github.com/hitoshi/hubman/internal/metrics"
	"github.com/hitoshi/hubman/internal/model"
	"github.com/hitoshi/hubman/internal/repository"
	"github.com/hitoshi/hubman/internal/security"
	"github.com/hitoshi/hubman/internal/topic"
)

// HubRequester はハブへのアウトバウンド購読リクエストのインターフェース。
// hub.Clientを抽象化してテスタビリティを向上させる。
type HubRequester interface {
	ChangeSubscription(ctx context.Context, sub *model.Subscription, subscribe bool) error
}

// RenewalScheduler は更新スケジューラへの登録・解除のインターフェース。
// worker/renew.Schedulerを抽象化する。どちらも相手を所有しない。
type RenewalScheduler interface {
	Add(sub *model.Subscription)
	Remove(id string)
}

// TopicDiscoverer はfeedトピックのハブ・正規URL検出のインターフェース。
type TopicDiscoverer interface {
	Discover(ctx context.Context, topicURL string) (*discovery.Result, error)
}

// PayloadDecoder はプッシュ通知ボディのデコードのインターフェース。
type PayloadDecoder interface {
	Decode(t model.TopicType, raw []byte) ([]any, error)
}

// ManagerConfig はManagerの設定。
type ManagerConfig struct {
	// TopicBaseURL はJSONトピックのhref構築に使用するAPIベースURL。
	TopicBaseURL string
	// DefaultLeaseSeconds はリクエストで指定がない場合のリース秒数。
	DefaultLeaseSeconds int
	// PendingTTL は確認待ちレコードを掃除するまでの猶予。
	PendingTTL time.Duration
	// UnsubscribeAllMaxConcurrent は一括解除の最大並列数。0以下は10。
	UnsubscribeAllMaxConcurrent int
}

// Manager は購読ライフサイクルの状態機械。
type Manager struct {
	config     ManagerConfig
	repo       repository.SubscriptionRepository
	hub        HubRequester
	bus        *events.Bus
	scheduler  RenewalScheduler // nilの場合は定期更新なし
	discoverer TopicDiscoverer  // nilの場合はfeedトピックのディスカバリなし
	decoder    PayloadDecoder
	logger     *slog.Logger
	metrics    metrics.MetricsCollector

	// テストで時刻を固定するためのフック
	now func() time.Time
}

// NewManager はManagerの新しいインスタンスを生成する。
func NewManager(
	config ManagerConfig,
	repo repository.SubscriptionRepository,
	hub HubRequester,
	bus *events.Bus,
	scheduler RenewalScheduler,
	discoverer TopicDiscoverer,
	decoder PayloadDecoder,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
) *Manager {
	if config.UnsubscribeAllMaxConcurrent <= 0 {
		config.UnsubscribeAllMaxConcurrent = 10
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Manager{
		config:     config,
		repo:       repo,
		hub:        hub,
		bus:        bus,
		scheduler:  scheduler,
		discoverer: discoverer,
		decoder:    decoder,
		logger:     logger,
		metrics:    collector,
		now:        time.Now,
	}
}

// SubscribeRequest は購読リクエストを表す。
type SubscribeRequest struct {
	TopicType    model.TopicType
	Params       url.Values
	LeaseSeconds int    // 0の場合はデフォルト値を使用
	UserID       string // ユーザースコープのトピックで使用するトークンの持ち主
}

// Subscribe は購読を開始し、導出した購読IDを返す。
// 同一(種別, パラメータ)の購読が既に存在する場合は、ハブリクエストを発行せず
// 既存のIDをそのまま返す（冪等）。
// ハブ呼び出しが失敗した場合、確認待ちレコードはロールバックせず残置される。
// 残置レコードはSweepPendingによる掃除の対象となる。
func (m *Manager) Subscribe(ctx context.Context, req SubscribeRequest) (string, error) {
	if err := topic.Validate(req.TopicType, req.Params); err != nil {
		return "", err
	}
	if topic.IsUserScoped(req.TopicType) && req.UserID == "" {
		return "", model.NewValidationError("userId")
	}

	id := topic.BuildID(req.TopicType, req.Params)

	existing, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("購読の照会に失敗しました: %w", err)
	}
	if existing != nil {
		m.logger.Debug("既存の購読を再利用します",
			slog.String("subscription_id", id),
			slog.Bool("subscribed", existing.Subscribed),
		)
		return existing.ID, nil
	}

	leaseSeconds := req.LeaseSeconds
	if leaseSeconds <= 0 {
		leaseSeconds = m.config.DefaultLeaseSeconds
	}

	href := topic.Href(m.config.TopicBaseURL, req.TopicType, req.Params)
	hubURL := ""

	// feedトピックはトピック側が宣言するハブと正規URLを優先する
	if req.TopicType == model.TopicFeed && m.discoverer != nil {
		result, err := m.discoverer.Discover(ctx, href)
		if err != nil {
			m.logger.Warn("トピックのディスカバリに失敗したため設定のハブを使用します",
				slog.String("subscription_id", id),
				slog.String("error", err.Error()),
			)
		} else {
			if result.SelfURL != "" {
				href = result.SelfURL
			}
			hubURL = result.HubURL
		}
	}

	secret, err := security.GenerateSecret(security.DefaultSecretLength)
	if err != nil {
		return "", fmt.Errorf("購読シークレットの生成に失敗しました: %w", err)
	}

	sub := &model.Subscription{
		ID:             id,
		TopicType:      req.TopicType,
		Href:           href,
		HubURL:         hubURL,
		Secret:         secret,
		LeaseSeconds:   leaseSeconds,
		AssociatedUser: req.UserID,
	}

	if err := m.repo.Create(ctx, sub); err != nil {
		return "", fmt.Errorf("購読の保存に失敗しました: %w", err)
	}

	if err := m.hub.ChangeSubscription(ctx, sub, true); err != nil {
		// 確認待ちレコードは残置する（再実行時は冪等パスに乗る）
		return "", err
	}

	return id, nil
}

// Unsubscribe は購読解除をハブへ要求する。
// レコードの削除はハブの解除確認コールバック到達時にのみ行われる。
func (m *Manager) Unsubscribe(ctx context.Context, id string) error {
	sub, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("購読の照会に失敗しました: %w", err)
	}
	if sub == nil {
		return model.NewSubscriptionNotFoundError(id)
	}

	if err := m.hub.ChangeSubscription(ctx, sub, false); err != nil {
		return err
	}

	if m.scheduler != nil {
		m.scheduler.Remove(id)
	}

	return nil
}

// Resubscribe は購読を更新（リース延長）する。
// 永続化状態は次の確認コールバック到達まで変更されない。
// 更新スケジューラからも呼ばれるため、ハブ失敗はerrorイベントとしても発行する。
func (m *Manager) Resubscribe(ctx context.Context, id string) error {
	sub, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("購読の照会に失敗しました: %w", err)
	}
	if sub == nil {
		return model.NewSubscriptionNotFoundError(id)
	}

	if err := m.hub.ChangeSubscription(ctx, sub, true); err != nil {
		m.metrics.RecordRenewal(false)
		m.bus.Emit(events.Error{SubscriptionID: id, Err: err})
		return err
	}

	m.metrics.RecordRenewal(true)
	return nil
}

// HandleVerification はハブの検証コールバック（GET）を処理する。
// 返り値はHTTPステータスとレスポンスボディ（チャレンジのエコーまたは空）。
// 確認・解除確認ではハブのチャレンジトークンをそのままエコーする。
func (m *Manager) HandleVerification(ctx context.Context, id string, query url.Values) (int, string, error) {
	sub, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return 0, "", fmt.Errorf("購読の照会に失敗しました: %w", err)
	}
	if sub == nil {
		m.metrics.RecordCallback("unknown")
		return http.StatusNotFound, "", nil
	}

	challenge := query.Get("hub.challenge")

	switch query.Get("hub.mode") {
	case "denied", "":
		// ハブによる購読拒否: レコードを削除し、errorイベントで理由を通知する
		if err := m.repo.Delete(ctx, id); err != nil {
			return 0, "", fmt.Errorf("拒否された購読の削除に失敗しました: %w", err)
		}
		m.metrics.RecordCallback("deny")
		m.bus.Emit(events.Error{
			SubscriptionID: id,
			Err:            model.NewSubscriptionDeniedError(id, query.Get("hub.reason")),
		})
		m.logger.Warn("ハブが購読を拒否しました",
			slog.String("subscription_id", id),
			slog.String("reason", query.Get("hub.reason")),
		)
		return http.StatusOK, "", nil

	case "unsubscribe":
		// 購読解除の確認: ここで初めてレコードを削除する
		if err := m.repo.Delete(ctx, id); err != nil {
			return 0, "", fmt.Errorf("解除された購読の削除に失敗しました: %w", err)
		}
		if m.scheduler != nil {
			m.scheduler.Remove(id)
		}
		m.metrics.RecordCallback("unsubscribe")
		m.bus.Emit(events.Unsubscribed{SubscriptionID: id})
		m.logger.Info("購読解除が確認されました", slog.String("subscription_id", id))
		return http.StatusOK, challenge, nil

	default:
		// 購読の確認: リース期間を確定して購読済みに遷移する
		now := m.now()
		leaseSeconds := sub.LeaseSeconds
		if echoed := query.Get("hub.lease_seconds"); echoed != "" {
			if v, err := strconv.Atoi(echoed); err == nil && v > 0 {
				leaseSeconds = v
			}
		}

		sub.Subscribed = true
		sub.SubscriptionStart = now
		sub.SubscriptionEnd = now.Add(time.Duration(leaseSeconds) * time.Second)

		if err := m.repo.Save(ctx, sub); err != nil {
			return 0, "", fmt.Errorf("確認された購読の保存に失敗しました: %w", err)
		}

		if m.scheduler != nil {
			m.scheduler.Add(sub)
		}
		m.metrics.RecordCallback("confirm")
		m.bus.Emit(events.Subscribed{SubscriptionID: id})
		m.logger.Info("購読が確認されました",
			slog.String("subscription_id", id),
			slog.Time("subscription_end", sub.SubscriptionEnd),
		)
		return http.StatusOK, challenge, nil
	}
}

// HandlePush はハブのプッシュ通知（POST、署名検証済み）を処理する。
// 購読IDが既知であれば、デコード失敗を含めて常に200を返す。
// デコードされた各ペイロードについて、汎用messageイベントを先に、
// トピック種別の型付きイベントをその後に発行する。
func (m *Manager) HandlePush(ctx context.Context, id string, rawBody []byte) (int, error) {
	sub, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("購読の照会に失敗しました: %w", err)
	}
	if sub == nil {
		m.metrics.RecordCallback("unknown")
		return http.StatusNotFound, nil
	}

	m.metrics.RecordCallback("push")

	payloads, err := m.decoder.Decode(sub.TopicType, rawBody)
	if err != nil {
		// 署名検証済みのプッシュボディは拒否しない
		m.logger.Warn("プッシュ通知のデコードに失敗しました",
			slog.String("subscription_id", id),
			slog.String("topic_type", string(sub.TopicType)),
			slog.String("error", err.Error()),
		)
		return http.StatusOK, nil
	}

	m.metrics.RecordPushPayloads(string(sub.TopicType), len(payloads))

	for _, payload := range payloads {
		m.bus.Emit(events.Message{
			SubscriptionID: id,
			TopicType:      sub.TopicType,
			Payload:        payload,
		})
		if typed, ok := events.ForTopic(sub.TopicType, id, payload); ok {
			m.bus.Emit(typed)
		}
	}

	return http.StatusOK, nil
}

// List は全購読を返す。
func (m *Manager) List(ctx context.Context) ([]*model.Subscription, error) {
	return m.repo.ListAll(ctx)
}
