// Package events は購読プロトコル内部とアプリケーションロジックを分離する
// 型付きイベントの発行機構を提供する。
package events

import "github.com/hitoshi/hubman/internal/model"

// Event は発行されるイベントの閉じたバリアント型。
// 実装はこのパッケージ内の型に限定される。
type Event interface {
	isEvent()
}

// Message はデコード済みプッシュ通知の汎用イベント。
// トピック種別ごとの型付きイベントより先に発行される。
type Message struct {
	SubscriptionID string
	TopicType      model.TopicType
	Payload        any
}

// StreamChanged はstreamsトピックの型付きイベント。
type StreamChanged struct {
	SubscriptionID string
	Stream         model.StreamPayload
}

// UserChanged はusersトピックの型付きイベント。
type UserChanged struct {
	SubscriptionID string
	User           model.UserPayload
}

// UserFollows はfollowsトピックの型付きイベント。
type UserFollows struct {
	SubscriptionID string
	Follow         model.FollowPayload
}

// FeedUpdated はfeedトピックの型付きイベント。
type FeedUpdated struct {
	SubscriptionID string
	Item           model.FeedItemPayload
}

// Subscribed は検証コールバック成功による購読確定イベント。
type Subscribed struct {
	SubscriptionID string
}

// Unsubscribed はハブの購読解除確認による購読終了イベント。
type Unsubscribed struct {
	SubscriptionID string
}

// Error はプロトコル処理中の非同期エラーイベント。
// SubscriptionIDは関連する購読が特定できる場合のみ設定される。
type Error struct {
	SubscriptionID string
	Err            error
}

func (Message) isEvent()       {}
func (StreamChanged) isEvent() {}
func (UserChanged) isEvent()   {}
func (UserFollows) isEvent()   {}
func (FeedUpdated) isEvent()   {}
func (Subscribed) isEvent()    {}
func (Unsubscribed) isEvent()  {}
func (Error) isEvent()         {}

// ForTopic はトピック種別をデコード済みペイロードに対応する型付きイベントへ写像する。
// ペイロードの型が種別と一致しない場合はfalseを返す。
func ForTopic(t model.TopicType, subscriptionID string, payload any) (Event, bool) {
	switch t {
	case model.TopicStream:
		if p, ok := payload.(model.StreamPayload); ok {
			return StreamChanged{SubscriptionID: subscriptionID, Stream: p}, true
		}
	case model.TopicUser:
		if p, ok := payload.(model.UserPayload); ok {
			return UserChanged{SubscriptionID: subscriptionID, User: p}, true
		}
	case model.TopicFollows:
		if p, ok := payload.(model.FollowPayload); ok {
			return UserFollows{SubscriptionID: subscriptionID, Follow: p}, true
		}
	case model.TopicFeed:
		if p, ok := payload.(model.FeedItemPayload); ok {
			return FeedUpdated{SubscriptionID: subscriptionID, Item: p}, true
		}
	}
	return nil, false
}
