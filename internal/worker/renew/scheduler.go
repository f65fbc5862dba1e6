// Package renew は購読リースの定期更新スケジューラを提供する。
//
// スケジューラは購読マネージャから登録・解除され、満了が近づいた購読について
// マネージャのResubscribeを呼び返す。相互の参照は狭いインターフェースで行い、
// どちらも相手を所有しない（両者の所有者はプロセスライフサイクル）。
package renew

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/hubman/internal/model"
)

// Resubscriber は購読更新の実行インターフェース。
// subscription.Managerを抽象化する。
type Resubscriber interface {
	// Resubscribe は指定IDの購読をハブに再要求する。
	Resubscribe(ctx context.Context, id string) error
}

// Config はスケジューラの設定。
type Config struct {
	// Interval は定期実行の間隔。0以下で定期実行を無効化する。
	Interval time.Duration
	// RenewBefore はリース満了のどれだけ前に更新を開始するか。
	RenewBefore time.Duration
	// MaxConcurrency は更新の最大並列数。0以下はデフォルト値10。
	MaxConcurrency int
}

// Scheduler は購読リースの更新スケジューリングと並列制御を行う。
// 登録された購読のうちリース満了が近いものを定期的に抽出し、
// semaphoreパターンで最大並列数を制御しながら更新を実行する。
type Scheduler struct {
	config Config
	logger *slog.Logger

	mu           sync.Mutex
	entries      map[string]time.Time // 購読ID → リース満了時刻
	resubscriber Resubscriber
	destroyed    bool
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// 更新先のマネージャは生成後にSetResubscriberで設定する。
func NewScheduler(config Config, logger *slog.Logger) *Scheduler {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 10
	}
	return &Scheduler{
		config:  config,
		logger:  logger,
		entries: make(map[string]time.Time),
	}
}

// SetResubscriber は更新の呼び返し先を設定する。
// マネージャとスケジューラの相互参照を構築時の循環なしに成立させるため、
// 生成直後のワイヤリングで1回だけ呼ぶこと。
func (s *Scheduler) SetResubscriber(r Resubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resubscriber = r
}

// Interval は定期実行の間隔を返す。0は定期実行なしを意味する。
func (s *Scheduler) Interval() time.Duration {
	if s.config.Interval <= 0 {
		return 0
	}
	return s.config.Interval
}

// Add は購読を更新対象として登録する。
// 既に登録済みのIDは満了時刻を上書きする（再確認コールバック後の再登録）。
func (s *Scheduler) Add(sub *model.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.entries[sub.ID] = sub.SubscriptionEnd
}

// Remove は購読を更新対象から外す。未登録のIDは何もしない。
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, id)
}

// Len は登録中の購読数を返す。テストおよびメトリクス用。
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start は設定間隔のティッカーでスケジューラを起動する。
// 間隔が0（無効）の場合は即座に返る。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context) {
	interval := s.Interval()
	if interval == 0 {
		s.logger.Info("更新スケジューラは無効化されています")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("更新スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("renew_before", s.config.RenewBefore),
		slog.Int("max_concurrency", s.config.MaxConcurrency),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("更新スケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は更新対象の購読を1回抽出し、並列で更新を実行する。
func (s *Scheduler) RunOnce(ctx context.Context) {
	due := s.dueIDs(time.Now())
	if len(due) == 0 {
		return
	}

	s.mu.Lock()
	resubscriber := s.resubscriber
	s.mu.Unlock()
	if resubscriber == nil {
		s.logger.Error("更新先が設定されていないため更新をスキップします",
			slog.Int("due_count", len(due)),
		)
		return
	}

	s.logger.Info("購読更新サイクルを開始します", slog.Int("due_count", len(due)))

	sem := make(chan struct{}, s.config.MaxConcurrency)
	var wg sync.WaitGroup

	for _, id := range due {
		wg.Add(1)
		sem <- struct{}{}

		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := resubscriber.Resubscribe(ctx, id); err != nil {
				s.logger.Error("購読更新に失敗しました",
					slog.String("subscription_id", id),
					slog.String("error", err.Error()),
				)
			}
		}(id)
	}

	wg.Wait()

	s.logger.Info("購読更新サイクルが完了しました", slog.Int("due_count", len(due)))
}

// dueIDs は指定時刻を基準に更新が必要な購読IDを返す。
func (s *Scheduler) dueIDs(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []string
	threshold := now.Add(s.config.RenewBefore)
	for id, end := range s.entries {
		if !end.After(threshold) {
			due = append(due, id)
		}
	}
	return due
}

// Destroy はスケジューラを破棄し、以後の登録を無視する。
func (s *Scheduler) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.destroyed = true
	s.entries = make(map[string]time.Time)
}
