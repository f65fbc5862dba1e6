package model

import "time"

// StreamPayload はstreamsトピックのプッシュ通知1件を表す。
// 配信終了時はハブが空のdata配列を送るため、配信終了はペイロード不在として扱う。
type StreamPayload struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	UserName    string    `json:"user_name"`
	GameID      string    `json:"game_id"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
	Language    string    `json:"language"`
}

// UserPayload はusersトピックのプッシュ通知1件を表す。
type UserPayload struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Email       string `json:"email,omitempty"`
}

// FollowPayload はfollowsトピックのプッシュ通知1件を表す。
type FollowPayload struct {
	FromID     string    `json:"from_id"`
	FromName   string    `json:"from_name"`
	ToID       string    `json:"to_id"`
	ToName     string    `json:"to_name"`
	FollowedAt time.Time `json:"followed_at"`
}

// FeedItemPayload はfeedトピックで配信されたフィード記事1件を表す。
// SummaryはHTMLサニタイズ済みの本文要約。
type FeedItemPayload struct {
	GUID        string
	Title       string
	Link        string
	Summary     string
	PublishedAt *time.Time
}
