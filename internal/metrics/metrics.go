// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 監視スケジューラーや通知層から利用する。
type MetricsCollector interface {
	RecordRefreshSuccess()
	RecordRefreshFailure(kind string)
	RecordRateLimited()
	RecordLockout()
	RecordRefreshLatency(duration time.Duration)
	RecordDealsFound(count int)
	RecordAlertSent()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	refreshSuccess prometheus.Counter
	refreshFail    *prometheus.CounterVec
	rateLimited    prometheus.Counter
	lockout        prometheus.Counter
	refreshLatency prometheus.Histogram
	dealsFound     prometheus.Counter
	alertsSent     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		refreshSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketwatch_refresh_success_total",
			Help: "相場更新成功の合計数",
		}),
		refreshFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketwatch_refresh_fail_total",
			Help: "相場更新失敗の分類別合計数",
		}, []string{"kind"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketwatch_rate_limited_total",
			Help: "レート制限応答を受けた合計数",
		}),
		lockout: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketwatch_lockout_total",
			Help: "グローバルロックアウトが発生した合計数",
		}),
		refreshLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketwatch_refresh_latency_seconds",
			Help:    "相場更新のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		dealsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketwatch_deals_found_total",
			Help: "取得した出品の合計数",
		}),
		alertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketwatch_alerts_sent_total",
			Help: "送信した買い時通知の合計数",
		}),
	}

	reg.MustRegister(
		c.refreshSuccess,
		c.refreshFail,
		c.rateLimited,
		c.lockout,
		c.refreshLatency,
		c.dealsFound,
		c.alertsSent,
	)

	return c
}

// RecordRefreshSuccess は相場更新成功を記録する。
func (c *Collector) RecordRefreshSuccess() {
	c.refreshSuccess.Inc()
}

// RecordRefreshFailure は相場更新失敗を分類付きで記録する。
func (c *Collector) RecordRefreshFailure(kind string) {
	c.refreshFail.WithLabelValues(kind).Inc()
}

// RecordRateLimited はレート制限応答を記録する。
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// RecordLockout はグローバルロックアウトの発生を記録する。
func (c *Collector) RecordLockout() {
	c.lockout.Inc()
}

// RecordRefreshLatency は相場更新のレイテンシを記録する。
func (c *Collector) RecordRefreshLatency(duration time.Duration) {
	c.refreshLatency.Observe(duration.Seconds())
}

// RecordDealsFound は取得した出品数を記録する。
func (c *Collector) RecordDealsFound(count int) {
	c.dealsFound.Add(float64(count))
}

// RecordAlertSent は買い時通知の送信を記録する。
func (c *Collector) RecordAlertSent() {
	c.alertsSent.Inc()
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
