package topic

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hitoshi/hubman/internal/model"
)

// canonicalQuery はパラメータをキーの昇順で安定的にシリアライズする。
// url.Values.Encodeはキーを昇順ソートするため、挿入順に依存しない。
func canonicalQuery(params url.Values) string {
	return params.Encode()
}

// BuildID は購読IDを導出する。
// IDは "<topic-type>/<正規化済みクエリ文字列>" の形式で、
// 同一の(種別, パラメータ)の組に対して常に同一、異なる組に対して必ず異なる。
// コールバックパスの末尾要素としてそのまま使用される。
func BuildID(t model.TopicType, params url.Values) string {
	return string(t) + "/" + canonicalQuery(params)
}

// ParseID はBuildIDの完全な逆変換を行い、トピック種別とパラメータを復元する。
func ParseID(id string) (model.TopicType, url.Values, error) {
	parts := strings.SplitN(id, "/", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("不正な購読IDです: %s", id)
	}

	t := model.TopicType(parts[0])
	if !IsSupported(t) {
		return "", nil, model.NewUnsupportedTopicError(parts[0])
	}

	params, err := url.ParseQuery(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("購読IDのパラメータ復元に失敗しました: %w", err)
	}

	return t, params, nil
}

// CallbackURL はハブに通知するコールバックURLを構築する。
// 形式: <base>/<topic-type>/<エスケープ済みクエリ文字列>
// パスから購読IDを再構築できるため、別途の対応表は不要。
func CallbackURL(base string, id string) string {
	parts := strings.SplitN(id, "/", 2)
	if len(parts) != 2 {
		return strings.TrimSuffix(base, "/") + "/" + url.PathEscape(id)
	}
	return strings.TrimSuffix(base, "/") + "/" + parts[0] + "/" + url.PathEscape(parts[1])
}

// JoinID はコールバックパスの要素から購読IDを再構築する。
// rawParamsはパスセグメントのためPathUnescapeを試み、失敗時はそのまま使用する。
func JoinID(topicSegment, rawParams string) string {
	if unescaped, err := url.PathUnescape(rawParams); err == nil {
		rawParams = unescaped
	}
	return topicSegment + "/" + rawParams
}
