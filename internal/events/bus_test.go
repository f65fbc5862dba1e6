package events

import (
	"io"
	"log/slog"
	"testing"

	"github.com/hitoshi/hubman/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestBus_EmitOrder はイベントが発行順・登録順に配送されることを検証する。
func TestBus_EmitOrder(t *testing.T) {
	bus := NewBus(testLogger())

	var got []string
	bus.Notify(func(e Event) {
		got = append(got, "first:"+TypeName(e))
	})
	bus.Notify(func(e Event) {
		got = append(got, "second:"+TypeName(e))
	})

	bus.Emit(Subscribed{SubscriptionID: "a"})
	bus.Emit(Unsubscribed{SubscriptionID: "a"})

	want := []string{
		"first:subscribed", "second:subscribed",
		"first:unsubscribed", "second:unsubscribed",
	}
	if len(got) != len(want) {
		t.Fatalf("delivered %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestBus_PanicIsolation はリスナーのpanicが他のリスナーと発行側に影響しないことを検証する。
func TestBus_PanicIsolation(t *testing.T) {
	bus := NewBus(testLogger())

	bus.Notify(func(Event) {
		panic("listener bug")
	})

	delivered := false
	bus.Notify(func(Event) {
		delivered = true
	})

	bus.Emit(Subscribed{SubscriptionID: "a"})

	if !delivered {
		t.Error("panic in one listener should not block later listeners")
	}
}

// TestBus_Unregister は登録解除後にイベントが配送されないことを検証する。
func TestBus_Unregister(t *testing.T) {
	bus := NewBus(testLogger())

	count := 0
	unregister := bus.Notify(func(Event) {
		count++
	})

	bus.Emit(Subscribed{SubscriptionID: "a"})
	unregister()
	bus.Emit(Subscribed{SubscriptionID: "b"})

	if count != 1 {
		t.Errorf("listener received %d events after unregister, want 1", count)
	}
}

// TestForTopic は種別ごとの型付きイベント変換を検証する。
func TestForTopic(t *testing.T) {
	tests := []struct {
		name      string
		topicType model.TopicType
		payload   any
		wantType  string
		wantOK    bool
	}{
		{name: "streams", topicType: model.TopicStream, payload: model.StreamPayload{ID: "1"}, wantType: "stream_changed", wantOK: true},
		{name: "users", topicType: model.TopicUser, payload: model.UserPayload{ID: "1"}, wantType: "user_changed", wantOK: true},
		{name: "follows", topicType: model.TopicFollows, payload: model.FollowPayload{FromID: "1"}, wantType: "user_follows", wantOK: true},
		{name: "feed", topicType: model.TopicFeed, payload: model.FeedItemPayload{GUID: "1"}, wantType: "feed_updated", wantOK: true},
		{name: "unknown type", topicType: model.TopicType("channels"), payload: model.StreamPayload{}, wantOK: false},
		{name: "mismatched payload", topicType: model.TopicStream, payload: model.UserPayload{}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := ForTopic(tt.topicType, "sub-1", tt.payload)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && TypeName(e) != tt.wantType {
				t.Errorf("event type = %q, want %q", TypeName(e), tt.wantType)
			}
		})
	}
}
