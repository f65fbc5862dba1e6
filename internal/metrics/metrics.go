// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハブクライアント・購読マネージャ・ミドルウェアから利用する。
type MetricsCollector interface {
	RecordHubRequest(statusCode int)
	RecordHubRetry()
	RecordSignatureFailure()
	RecordCallback(kind string)
	RecordPushPayloads(topicType string, count int)
	RecordRenewal(success bool)
	RecordHubLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	hubRequests  *prometheus.CounterVec
	hubRetries   prometheus.Counter
	sigFailures  prometheus.Counter
	callbacks    *prometheus.CounterVec
	pushPayloads *prometheus.CounterVec
	renewals     *prometheus.CounterVec
	hubLatency   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		hubRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hubman_hub_requests_total",
			Help: "ハブリクエストのHTTPステータスコード別の合計数",
		}, []string{"status_code"}),
		hubRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hubman_hub_retries_total",
			Help: "401によるトークン再取得リトライの合計数",
		}),
		sigFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hubman_signature_failures_total",
			Help: "署名検証失敗の合計数",
		}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hubman_callbacks_total",
			Help: "インバウンドコールバックの種別ごとの合計数",
		}, []string{"kind"}),
		pushPayloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hubman_push_payloads_total",
			Help: "デコードされたプッシュ通知ペイロードのトピック種別ごとの合計数",
		}, []string{"topic_type"}),
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hubman_renewals_total",
			Help: "購読更新の結果ごとの合計数",
		}, []string{"result"}),
		hubLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hubman_hub_latency_seconds",
			Help:    "ハブリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.hubRequests,
		c.hubRetries,
		c.sigFailures,
		c.callbacks,
		c.pushPayloads,
		c.renewals,
		c.hubLatency,
	)

	return c
}

// RecordHubRequest はハブリクエストの結果ステータスを記録する。
func (c *Collector) RecordHubRequest(statusCode int) {
	c.hubRequests.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordHubRetry は401リトライを記録する。
func (c *Collector) RecordHubRetry() {
	c.hubRetries.Inc()
}

// RecordSignatureFailure は署名検証失敗を記録する。
func (c *Collector) RecordSignatureFailure() {
	c.sigFailures.Inc()
}

// RecordCallback はインバウンドコールバックを種別付きで記録する。
// kind: confirm, deny, unsubscribe, push, unknown
func (c *Collector) RecordCallback(kind string) {
	c.callbacks.WithLabelValues(kind).Inc()
}

// RecordPushPayloads はデコードされたペイロード数を記録する。
func (c *Collector) RecordPushPayloads(topicType string, count int) {
	c.pushPayloads.WithLabelValues(topicType).Add(float64(count))
}

// RecordRenewal は購読更新の結果を記録する。
func (c *Collector) RecordRenewal(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.renewals.WithLabelValues(result).Inc()
}

// RecordHubLatency はハブリクエストのレイテンシを記録する。
func (c *Collector) RecordHubLatency(duration time.Duration) {
	c.hubLatency.Observe(duration.Seconds())
}

// NopCollector は何も記録しないMetricsCollector実装。テスト用。
type NopCollector struct{}

func (NopCollector) RecordHubRequest(int)            {}
func (NopCollector) RecordHubRetry()                 {}
func (NopCollector) RecordSignatureFailure()         {}
func (NopCollector) RecordCallback(string)           {}
func (NopCollector) RecordPushPayloads(string, int)  {}
func (NopCollector) RecordRenewal(bool)              {}
func (NopCollector) RecordHubLatency(time.Duration)  {}
