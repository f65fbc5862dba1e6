package topic

import (
	"net/url"
	"testing"

	"github.com/hitoshi/hubman/internal/model"
)

// TestBuildID_Deterministic は同一パラメータから常に同一IDが導出されることを検証する。
func TestBuildID_Deterministic(t *testing.T) {
	a := url.Values{}
	a.Set("from_id", "123")
	a.Set("to_id", "456")

	// 挿入順を変えても結果は同じ
	b := url.Values{}
	b.Set("to_id", "456")
	b.Set("from_id", "123")

	idA := BuildID(model.TopicFollows, a)
	idB := BuildID(model.TopicFollows, b)

	if idA != idB {
		t.Errorf("BuildID is not deterministic: %q != %q", idA, idB)
	}
	if idA != "follows/from_id=123&to_id=456" {
		t.Errorf("BuildID = %q, want %q", idA, "follows/from_id=123&to_id=456")
	}
}

// TestBuildID_DistinctAcrossTypes は種別が異なれば同一パラメータでもIDが異なることを検証する。
func TestBuildID_DistinctAcrossTypes(t *testing.T) {
	params := url.Values{}
	params.Set("user_id", "42")

	idStream := BuildID(model.TopicStream, params)
	idUser := BuildID(model.TopicUser, params)

	if idStream == idUser {
		t.Errorf("IDs should differ across topic types, both are %q", idStream)
	}
}

// TestParseID_Inverse はParseIDがBuildIDの完全な逆変換であることを検証する。
func TestParseID_Inverse(t *testing.T) {
	tests := []struct {
		name      string
		topicType model.TopicType
		params    url.Values
	}{
		{
			name:      "stream",
			topicType: model.TopicStream,
			params:    url.Values{"user_id": {"42"}},
		},
		{
			name:      "follows with both params",
			topicType: model.TopicFollows,
			params:    url.Values{"from_id": {"1"}, "to_id": {"2"}},
		},
		{
			name:      "feed with escaped url",
			topicType: model.TopicFeed,
			params:    url.Values{"url": {"https://example.com/feed.xml?page=1&lang=ja"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := BuildID(tt.topicType, tt.params)

			gotType, gotParams, err := ParseID(id)
			if err != nil {
				t.Fatalf("ParseID(%q) returned error: %v", id, err)
			}
			if gotType != tt.topicType {
				t.Errorf("topic type = %q, want %q", gotType, tt.topicType)
			}
			if gotParams.Encode() != tt.params.Encode() {
				t.Errorf("params = %q, want %q", gotParams.Encode(), tt.params.Encode())
			}
		})
	}
}

// TestParseID_Invalid は不正なIDの拒否を検証する。
func TestParseID_Invalid(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{name: "no separator", id: "streams"},
		{name: "unsupported type", id: "channels/user_id=42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseID(tt.id); err == nil {
				t.Errorf("ParseID(%q) should return error", tt.id)
			}
		})
	}
}

// TestCallbackURL_RoundTrip はコールバックパスの要素から購読IDを復元できることを検証する。
func TestCallbackURL_RoundTrip(t *testing.T) {
	params := url.Values{}
	params.Set("url", "https://example.com/feed.xml?a=1&b=2")
	id := BuildID(model.TopicFeed, params)

	cb := CallbackURL("https://sub.example.com/webhooks", id)

	// パス要素に生の & や = が現れないこと
	u, err := url.Parse(cb)
	if err != nil {
		t.Fatalf("CallbackURL produced unparsable URL: %v", err)
	}
	if u.RawQuery != "" {
		t.Errorf("callback URL should not carry a query string, got %q", u.RawQuery)
	}

	// 末尾2要素からIDを再構築できること
	segments := splitLastTwo(u.EscapedPath())
	got := JoinID(segments[0], segments[1])
	if got != id {
		t.Errorf("JoinID = %q, want %q", got, id)
	}
}

// splitLastTwo はエスケープ済みパスの末尾2要素を返す。
func splitLastTwo(escapedPath string) [2]string {
	var segs []string
	for _, s := range splitPath(escapedPath) {
		if s != "" {
			segs = append(segs, s)
		}
	}
	if len(segs) < 2 {
		return [2]string{}
	}
	return [2]string{segs[len(segs)-2], segs[len(segs)-1]}
}

func splitPath(p string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			segs = append(segs, p[start:i])
			start = i + 1
		}
	}
	return append(segs, p[start:])
}
