package topic

import (
	"encoding/json"
	"fmt"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/hubman/internal/model"
	"github.com/hitoshi/hubman/internal/security"
)

// Decoder はトピック種別ごとにプッシュ通知の生ボディを型付きペイロードへ変換する。
// JSONトピックは {"data": [...]} エンベロープを、feedトピックは
// プッシュされたRSS/Atomドキュメントそのものをデコードする。
type Decoder struct {
	feedParser *gofeed.Parser
	sanitizer  security.ContentSanitizerService
}

// NewDecoder はDecoderの新しいインスタンスを生成する。
func NewDecoder(sanitizer security.ContentSanitizerService) *Decoder {
	return &Decoder{
		feedParser: gofeed.NewParser(),
		sanitizer:  sanitizer,
	}
}

// jsonEnvelope はJSONトピックのプッシュ通知ボディの外形。
type jsonEnvelope struct {
	Data []json.RawMessage `json:"data"`
}

// Decode は生ボディをトピック種別に応じた型付きペイロードのスライスに変換する。
// 返り値の各要素はmodel.StreamPayload / model.UserPayload / model.FollowPayload /
// model.FeedItemPayload のいずれか。空のdata配列は空スライスを返す（エラーではない）。
func (d *Decoder) Decode(t model.TopicType, raw []byte) ([]any, error) {
	switch t {
	case model.TopicStream:
		return decodeEnvelope[model.StreamPayload](raw)
	case model.TopicUser:
		return decodeEnvelope[model.UserPayload](raw)
	case model.TopicFollows:
		return decodeEnvelope[model.FollowPayload](raw)
	case model.TopicFeed:
		return d.decodeFeed(raw)
	default:
		return nil, model.NewUnsupportedTopicError(string(t))
	}
}

// decodeEnvelope は {"data": [...]} エンベロープを型Tのスライスにデコードする。
func decodeEnvelope[T any](raw []byte) ([]any, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("プッシュ通知ボディのパースに失敗しました: %w", err)
	}

	payloads := make([]any, 0, len(env.Data))
	for i, item := range env.Data {
		var p T
		if err := json.Unmarshal(item, &p); err != nil {
			return nil, fmt.Errorf("プッシュ通知ペイロード %d 件目のパースに失敗しました: %w", i, err)
		}
		payloads = append(payloads, p)
	}

	return payloads, nil
}

// decodeFeed はプッシュされたフィードドキュメントを記事ペイロードに変換する。
// WebSubのfat pingではフィード本体がそのままボディとして配信される。
// 記事本文の要約はサニタイズしてから返す。
func (d *Decoder) decodeFeed(raw []byte) ([]any, error) {
	feed, err := d.feedParser.ParseString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("配信されたフィードのパースに失敗しました: %w", err)
	}

	payloads := make([]any, 0, len(feed.Items))
	for _, item := range feed.Items {
		summary := item.Description
		if summary == "" {
			summary = item.Content
		}

		link := item.Link
		if !security.IsSafeLink(link) {
			link = ""
		}

		payloads = append(payloads, model.FeedItemPayload{
			GUID:        item.GUID,
			Title:       item.Title,
			Link:        link,
			Summary:     d.sanitizer.Sanitize(summary),
			PublishedAt: item.PublishedParsed,
		})
	}

	return payloads, nil
}
