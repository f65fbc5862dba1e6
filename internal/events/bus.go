package events

import (
	"log/slog"
	"sync"
)

// Listener はイベントの購読者。
type Listener func(Event)

// Bus は同期・順序保証付きのインプロセスイベントバス。
// 発行は登録順にリスナーへ直列に配送される。
// リスナー内のpanicは回収してログに記録し、プロトコル処理には影響させない。
type Bus struct {
	logger *slog.Logger

	mu        sync.RWMutex
	listeners []Listener
}

// NewBus はBusの新しいインスタンスを生成する。
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

// Notify はリスナーを登録する。登録解除用の関数を返す。
func (b *Bus) Notify(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listeners = append(b.listeners, l)
	idx := len(b.listeners) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.listeners) {
			b.listeners[idx] = nil
		}
	}
}

// Emit はイベントを全リスナーへ同期的に配送する。
// リスナーのpanicはここで隔離される。
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, l := range listeners {
		if l == nil {
			continue
		}
		b.dispatch(l, e)
	}
}

// dispatch は1リスナーへの配送を行い、panicを回収する。
func (b *Bus) dispatch(l Listener, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("イベントリスナーでpanicが発生しました",
				slog.Any("panic", rec),
				slog.String("event_type", TypeName(e)),
			)
		}
	}()
	l(e)
}

// TypeName はログ用のイベント種別名を返す。
func TypeName(e Event) string {
	switch e.(type) {
	case Message:
		return "message"
	case StreamChanged:
		return "stream_changed"
	case UserChanged:
		return "user_changed"
	case UserFollows:
		return "user_follows"
	case FeedUpdated:
		return "feed_updated"
	case Subscribed:
		return "subscribed"
	case Unsubscribed:
		return "unsubscribed"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}
