// Package discovery はWebSubトピックのハブURL・正規トピックURLの検出を提供する。
//
// feedトピックの購読時に使用され、HTTPのLinkレスポンスヘッダー、
// またはHTMLドキュメントの<link>要素からrel="hub"とrel="self"を解決する。
package discovery

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// maxDocumentSize はディスカバリで読み取るドキュメントの上限サイズ。
const maxDocumentSize = 1 << 20 // 1MiB

// SSRFValidator はSSRF検証のインターフェース。
// security.SSRFGuardServiceを抽象化してテスタビリティを向上させる。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// Result はディスカバリの結果を表す。
type Result struct {
	// HubURL はトピックが宣言するハブのURL。見つからない場合は空。
	HubURL string
	// SelfURL はトピックの正規URL。見つからない場合は空。
	SelfURL string
}

// Discoverer はトピックURLからハブと正規URLを検出する。
type Discoverer struct {
	ssrfGuard SSRFValidator
	timeout   time.Duration

	// テスト用にHTTPクライアントを差し替え可能
	httpClient *http.Client
}

// NewDiscoverer はDiscovererの新しいインスタンスを生成する。
func NewDiscoverer(ssrfGuard SSRFValidator, timeout time.Duration) *Discoverer {
	return &Discoverer{
		ssrfGuard: ssrfGuard,
		timeout:   timeout,
	}
}

// Discover はトピックURLを取得し、宣言されているハブと正規URLを返す。
// Linkレスポンスヘッダーを優先し、HTMLドキュメントの場合は<link>要素も走査する。
// どちらにも宣言がない場合は空のResultを返す（エラーではない）。
func (d *Discoverer) Discover(ctx context.Context, topicURL string) (*Result, error) {
	if err := d.ssrfGuard.ValidateURL(topicURL); err != nil {
		return nil, fmt.Errorf("トピックURLの検証に失敗しました: %w", err)
	}

	client := d.httpClient
	if client == nil {
		client = d.ssrfGuard.NewSafeClient(d.timeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, topicURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ディスカバリリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Hubman/1.0 WebSub Subscriber")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("トピックURLの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("トピックURLがステータス %d を返しました", resp.StatusCode)
	}

	result := &Result{}

	// 1. Linkレスポンスヘッダーを優先
	for _, header := range resp.Header.Values("Link") {
		applyLinkHeader(result, header)
	}
	if result.HubURL != "" && result.SelfURL != "" {
		return d.resolve(topicURL, result)
	}

	// 2. HTMLドキュメントの場合は<link>要素を走査
	if isHTMLContentType(resp.Header.Get("Content-Type")) {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
		if err != nil {
			return nil, fmt.Errorf("ディスカバリドキュメントの読み取りに失敗しました: %w", err)
		}
		applyHTMLLinks(result, body)
	}

	return d.resolve(topicURL, result)
}

// resolve は相対URLをトピックURL基準の絶対URLに解決する。
func (d *Discoverer) resolve(topicURL string, result *Result) (*Result, error) {
	base, err := url.Parse(topicURL)
	if err != nil {
		return nil, fmt.Errorf("トピックURLのパースに失敗しました: %w", err)
	}

	if result.HubURL != "" {
		if ref, err := url.Parse(result.HubURL); err == nil {
			result.HubURL = base.ResolveReference(ref).String()
		}
		// 検出したハブURLもSSRF検証の対象とする
		if err := d.ssrfGuard.ValidateURL(result.HubURL); err != nil {
			return nil, fmt.Errorf("検出されたハブURLの検証に失敗しました: %w", err)
		}
	}
	if result.SelfURL != "" {
		if ref, err := url.Parse(result.SelfURL); err == nil {
			result.SelfURL = base.ResolveReference(ref).String()
		}
	}

	return result, nil
}

// applyLinkHeader は `<url>; rel="hub"` 形式のLinkヘッダーを解釈して結果に反映する。
// ヘッダーはカンマ区切りで複数のリンクを含みうる。
func applyLinkHeader(result *Result, header string) {
	for _, link := range strings.Split(header, ",") {
		parts := strings.Split(link, ";")
		if len(parts) < 2 {
			continue
		}

		target := strings.TrimSpace(parts[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		target = strings.Trim(target, "<>")

		for _, attr := range parts[1:] {
			key, value, ok := strings.Cut(strings.TrimSpace(attr), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "rel") {
				continue
			}
			applyRel(result, strings.Trim(strings.TrimSpace(value), `"`), target)
		}
	}
}

// applyHTMLLinks はHTMLドキュメントの<link>要素からhub/selfを検出する。
func applyHTMLLinks(result *Result, body []byte) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "link" {
			var rel, href string
			for _, attr := range n.Attr {
				switch strings.ToLower(attr.Key) {
				case "rel":
					rel = attr.Val
				case "href":
					href = attr.Val
				}
			}
			if rel != "" && href != "" {
				applyRel(result, rel, href)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
}

// applyRel はrel属性値（空白区切りの複数値を含む）をhub/selfに振り分ける。
// 先に検出された値を優先する。
func applyRel(result *Result, rel, target string) {
	for _, r := range strings.Fields(rel) {
		switch strings.ToLower(r) {
		case "hub":
			if result.HubURL == "" {
				result.HubURL = target
			}
		case "self":
			if result.SelfURL == "" {
				result.SelfURL = target
			}
		}
	}
}

// isHTMLContentType はContent-TypeがHTMLドキュメントを示すかを返す。
func isHTMLContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	mediaType = strings.ToLower(mediaType)
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
