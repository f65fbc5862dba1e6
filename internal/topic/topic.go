// Package topic はトピックの識別・検証・URL構築とプッシュペイロードのデコードを提供する。
//
// 購読IDはトピック種別と正規化済みパラメータの純粋関数として導出され、
// コールバックパスから元のパラメータを完全に復元できる。
package topic

import (
	"net/url"
	"strings"

	"github.com/hitoshi/hubman/internal/model"
)

// definition はトピック種別ごとの制約を表す。
type definition struct {
	// path はTopicBaseURLに連結するAPIパス。feedトピックは空（hrefはurlパラメータそのもの）。
	path string
	// required は必須パラメータ。
	required []string
	// atLeastOne はいずれか1つ以上の指定が必要なパラメータ群。
	atLeastOne []string
	// userScoped はユーザースコープのアクセストークンを要求するトピックかどうか。
	userScoped bool
}

// definitions はサポートするトピック種別の一覧。
var definitions = map[model.TopicType]definition{
	model.TopicStream: {
		path:     "/streams",
		required: []string{"user_id"},
	},
	model.TopicUser: {
		path:       "/users",
		required:   []string{"id"},
		userScoped: true,
	},
	model.TopicFollows: {
		path:       "/users/follows",
		atLeastOne: []string{"from_id", "to_id"},
	},
	model.TopicFeed: {
		required: []string{"url"},
	},
}

// IsSupported はトピック種別がサポートされているかを返す。
func IsSupported(t model.TopicType) bool {
	_, ok := definitions[t]
	return ok
}

// IsUserScoped はユーザースコープのトークンを要求するトピック種別かを返す。
// サポート外の種別はfalseを返す。
func IsUserScoped(t model.TopicType) bool {
	return definitions[t].userScoped
}

// Validate はトピック種別とパラメータを検証する。
// サポート外の種別・必須パラメータの欠落はネットワーク呼び出し前の
// 同期エラーとして返す。
func Validate(t model.TopicType, params url.Values) error {
	def, ok := definitions[t]
	if !ok {
		return model.NewUnsupportedTopicError(string(t))
	}

	for _, p := range def.required {
		if params.Get(p) == "" {
			return model.NewValidationError(p)
		}
	}

	if len(def.atLeastOne) > 0 {
		found := false
		for _, p := range def.atLeastOne {
			if params.Get(p) != "" {
				found = true
				break
			}
		}
		if !found {
			return model.NewValidationError(strings.Join(def.atLeastOne, "|"))
		}
	}

	return nil
}

// Href はトピックの正規URL（ハブに送信するhub.topic）を構築する。
// feedトピックはurlパラメータの値そのものをhrefとする。
// パラメータはキーの昇順で正規化される。
func Href(topicBaseURL string, t model.TopicType, params url.Values) string {
	def := definitions[t]
	if t == model.TopicFeed {
		return params.Get("url")
	}
	return strings.TrimSuffix(topicBaseURL, "/") + def.path + "?" + canonicalQuery(params)
}
