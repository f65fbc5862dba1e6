// Package model はドメインモデルを定義する。
package model

import "time"

// TopicType は購読対象のトピック種別を表す。
type TopicType string

const (
	// TopicStream は配信状態の変更を通知するトピック。
	TopicStream TopicType = "streams"
	// TopicUser はユーザー情報の変更を通知するトピック。
	TopicUser TopicType = "users"
	// TopicFollows はフォロー関係の変更を通知するトピック。
	TopicFollows TopicType = "follows"
	// TopicFeed はWebSubフィードの更新を通知するトピック。
	TopicFeed TopicType = "feed"
)

// Subscription はハブへの購読1件を表す永続化レコード。
// IDはトピック種別と正規化済みパラメータから決定的に導出され、
// コールバックパスの末尾要素としても使用される。
type Subscription struct {
	ID           string
	TopicType    TopicType
	Href         string
	HubURL       string // 空の場合は設定のデフォルトハブURLを使用する
	Secret       string
	LeaseSeconds int
	Subscribed   bool

	// SubscriptionStart / SubscriptionEnd は確認コールバック成功時にのみ設定される。
	SubscriptionStart time.Time
	SubscriptionEnd   time.Time

	// AssociatedUser はユーザースコープのトピックで使用するトークンの持ち主。
	// 空の場合はアプリケーション資格情報を使用する。
	AssociatedUser string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPending は購読がハブの確認待ちかどうかを返す。
func (s *Subscription) IsPending() bool {
	return !s.Subscribed
}
