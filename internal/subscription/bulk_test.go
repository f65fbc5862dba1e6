package subscription

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/hubman/internal/events"
	"github.com/hitoshi/hubman/internal/model"
)

// subscribeN はn件の購読を作成して確認済みにする。
func subscribeN(t *testing.T, f *managerFixture, n int) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, 0, n)
	for i := range n {
		req := SubscribeRequest{
			TopicType: model.TopicStream,
			Params:    url.Values{"user_id": {strconv.Itoa(100 + i)}},
		}
		id, err := f.manager.Subscribe(ctx, req)
		if err != nil {
			t.Fatalf("Subscribe returned error: %v", err)
		}
		query := url.Values{}
		query.Set("hub.mode", "subscribe")
		query.Set("hub.challenge", "c")
		if _, _, err := f.manager.HandleVerification(ctx, id, query); err != nil {
			t.Fatalf("HandleVerification returned error: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

// TestManager_UnsubscribeAll は一括解除が全確認の到達まで待機することを検証する。
func TestManager_UnsubscribeAll(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	ids := subscribeN(t, f, 3)

	// 解除リクエストを受けたハブが確認コールバックを返す動きを模擬する
	f.hub.fn = func(ctx context.Context, sub *model.Subscription, subscribe bool) error {
		if subscribe {
			return nil
		}
		go func() {
			query := url.Values{}
			query.Set("hub.mode", "unsubscribe")
			query.Set("hub.challenge", "bye")
			f.manager.HandleVerification(context.Background(), sub.ID, query)
		}()
		return nil
	}

	timeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := f.manager.UnsubscribeAll(timeout); err != nil {
		t.Fatalf("UnsubscribeAll returned error: %v", err)
	}

	for _, id := range ids {
		if sub, _ := f.repo.FindByID(ctx, id); sub != nil {
			t.Errorf("subscription %s should be deleted", id)
		}
	}
}

// TestManager_UnsubscribeAll_FailedCallSkipsWait は呼び出し失敗の購読を
// 待機対象から外してバッチを完了させることを検証する。
func TestManager_UnsubscribeAll_FailedCallSkipsWait(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	ids := subscribeN(t, f, 2)
	failing := ids[0]

	f.hub.fn = func(ctx context.Context, sub *model.Subscription, subscribe bool) error {
		if subscribe {
			return nil
		}
		if sub.ID == failing {
			return &model.HubRequestError{StatusCode: 503, Body: "unavailable"}
		}
		go func() {
			query := url.Values{}
			query.Set("hub.mode", "unsubscribe")
			query.Set("hub.challenge", "bye")
			f.manager.HandleVerification(context.Background(), sub.ID, query)
		}()
		return nil
	}

	timeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// 失敗した購読の確認は永遠に来ないが、待機から外れるため完了する
	if err := f.manager.UnsubscribeAll(timeout); err != nil {
		t.Fatalf("UnsubscribeAll returned error: %v", err)
	}

	// 失敗した購読のレコードは残る
	if sub, _ := f.repo.FindByID(ctx, failing); sub == nil {
		t.Error("failed subscription should keep its record")
	}
}

// TestManager_UnsubscribeAll_Empty は購読ゼロ件での即時完了を検証する。
func TestManager_UnsubscribeAll_Empty(t *testing.T) {
	f := newManagerFixture(t)

	if err := f.manager.UnsubscribeAll(context.Background()); err != nil {
		t.Fatalf("UnsubscribeAll returned error: %v", err)
	}
	if f.hub.callCount() != 0 {
		t.Errorf("hub called %d times, want 0", f.hub.callCount())
	}
}

// TestManager_UnsubscribeAll_ContextDeadline は確認が来ない場合に
// コンテキスト期限で打ち切られることを検証する。
func TestManager_UnsubscribeAll_ContextDeadline(t *testing.T) {
	f := newManagerFixture(t)

	subscribeN(t, f, 1)

	// ハブは解除を受け付けるが確認コールバックを返さない
	timeout, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := f.manager.UnsubscribeAll(timeout)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

// TestManager_SweepPending は期限超過した確認待ちレコードの掃除を検証する。
func TestManager_SweepPending(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	// pendingのまま放置される購読
	pendingID, err := f.manager.Subscribe(ctx, SubscribeRequest{
		TopicType: model.TopicStream,
		Params:    url.Values{"user_id": {"1"}},
	})
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	// 確認済みの購読（掃除対象外）
	subscribedIDs := subscribeN(t, f, 1)

	// PendingTTL(1h)を超えた未来へ時計を進める
	f.manager.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	swept, err := f.manager.SweepPending(ctx)
	if err != nil {
		t.Fatalf("SweepPending returned error: %v", err)
	}
	if swept != 1 {
		t.Errorf("swept = %d, want 1", swept)
	}

	if sub, _ := f.repo.FindByID(ctx, pendingID); sub != nil {
		t.Error("expired pending record should be deleted")
	}
	if sub, _ := f.repo.FindByID(ctx, subscribedIDs[0]); sub == nil {
		t.Error("subscribed record must not be swept")
	}

	// 掃除された購読ごとにerrorイベントが発行される
	found := false
	for _, e := range f.events.all() {
		if ev, ok := e.(events.Error); ok && ev.SubscriptionID == pendingID {
			found = true
		}
	}
	if !found {
		t.Error("error event should be emitted for the swept record")
	}
}

// TestManager_SweepPending_FreshPendingKept はTTL以内の確認待ちが
// 掃除されないことを検証する。
func TestManager_SweepPending_FreshPendingKept(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	id, err := f.manager.Subscribe(ctx, SubscribeRequest{
		TopicType: model.TopicStream,
		Params:    url.Values{"user_id": {"1"}},
	})
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	swept, err := f.manager.SweepPending(ctx)
	if err != nil {
		t.Fatalf("SweepPending returned error: %v", err)
	}
	if swept != 0 {
		t.Errorf("swept = %d, want 0", swept)
	}
	if sub, _ := f.repo.FindByID(ctx, id); sub == nil {
		t.Error("fresh pending record must be kept")
	}
}
