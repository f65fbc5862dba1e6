package subscription

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/hubman/internal/events"
)

// UnsubscribeAll は全購読の解除を並列に発行し、ハブからの解除確認を待つ。
// 解除はハブの確認コールバック到達時にのみ確定するため、
// アウトバウンド呼び出しの完了ではなくunsubscribedイベントの到達を待機する。
// 呼び出しが失敗した購読は待機対象から外し、失敗としてログに記録する（バッチは継続）。
// ctxの期限で待機を打ち切る。
func (m *Manager) UnsubscribeAll(ctx context.Context) error {
	subs, err := m.repo.ListAll(ctx)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	// 解除確認イベントの収集をアウトバウンド呼び出しより先に開始する
	var mu sync.Mutex
	confirmed := make(map[string]bool)
	signal := make(chan struct{}, 1)

	unregister := m.bus.Notify(func(e events.Event) {
		u, ok := e.(events.Unsubscribed)
		if !ok {
			return
		}
		mu.Lock()
		confirmed[u.SubscriptionID] = true
		mu.Unlock()
		select {
		case signal <- struct{}{}:
		default:
		}
	})
	defer unregister()

	waiting := make(map[string]bool, len(subs))
	for _, sub := range subs {
		waiting[sub.ID] = true
	}

	// 解除リクエストをsemaphoreパターンで並列発行する
	sem := make(chan struct{}, m.config.UnsubscribeAllMaxConcurrent)
	var wg sync.WaitGroup
	var failedMu sync.Mutex
	failed := make(map[string]bool)

	for _, sub := range subs {
		wg.Add(1)
		sem <- struct{}{}

		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := m.Unsubscribe(ctx, id); err != nil {
				m.logger.Error("購読解除リクエストに失敗しました",
					slog.String("subscription_id", id),
					slog.String("error", err.Error()),
				)
				failedMu.Lock()
				failed[id] = true
				failedMu.Unlock()
			}
		}(sub.ID)
	}

	wg.Wait()

	// 呼び出しに失敗した購読は確認イベントが来ないため待機対象から外す
	for id := range failed {
		delete(waiting, id)
	}

	m.logger.Info("全購読の解除リクエストを発行しました",
		slog.Int("total", len(subs)),
		slog.Int("failed", len(failed)),
		slog.Int("awaiting_confirmation", len(waiting)),
	)

	for {
		mu.Lock()
		for id := range confirmed {
			delete(waiting, id)
		}
		remaining := len(waiting)
		mu.Unlock()

		if remaining == 0 {
			m.logger.Info("全購読の解除が確認されました")
			return nil
		}

		select {
		case <-ctx.Done():
			m.logger.Warn("解除確認の待機を打ち切りました",
				slog.Int("unconfirmed", remaining),
			)
			return ctx.Err()
		case <-signal:
		}
	}
}

// SweepPending は確認待ちのままPendingTTLを超過したレコードを削除する。
// ハブ呼び出し失敗で残置されたレコードの明示的な回収パスであり、
// 削除した購読ごとにerrorイベントを発行する。削除件数を返す。
func (m *Manager) SweepPending(ctx context.Context) (int, error) {
	subs, err := m.repo.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := m.now().Add(-m.config.PendingTTL)
	swept := 0

	for _, sub := range subs {
		if !sub.IsPending() || !sub.CreatedAt.Before(cutoff) {
			continue
		}

		if err := m.repo.Delete(ctx, sub.ID); err != nil {
			m.logger.Error("確認待ち購読の掃除に失敗しました",
				slog.String("subscription_id", sub.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		swept++
		m.bus.Emit(events.Error{
			SubscriptionID: sub.ID,
			Err:            errPendingExpired(sub.ID, m.config.PendingTTL),
		})
		m.logger.Warn("確認されないまま期限切れとなった購読を削除しました",
			slog.String("subscription_id", sub.ID),
			slog.Time("created_at", sub.CreatedAt),
		)
	}

	return swept, nil
}

// errPendingExpired は確認待ち期限切れのエラーを生成する。
func errPendingExpired(id string, ttl time.Duration) error {
	return &pendingExpiredError{id: id, ttl: ttl}
}

// pendingExpiredError は確認待ちのまま期限切れとなった購読のエラー。
type pendingExpiredError struct {
	id  string
	ttl time.Duration
}

func (e *pendingExpiredError) Error() string {
	return "購読がハブに確認されないまま期限切れになりました: " + e.id + " (猶予: " + e.ttl.String() + ")"
}
