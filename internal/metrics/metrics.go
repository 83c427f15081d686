// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordDeliveryPrimary(kind string)
	RecordDeliveryFallback(kind string)
	RecordDeliveryFailure(kind string)
	RecordDeliveryLatency(duration time.Duration)
	RecordSelection()
	RecordCascadedRejections(count int)
	RecordQueueDepth(depth int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	deliveryPrimary    *prometheus.CounterVec
	deliveryFallback   *prometheus.CounterVec
	deliveryFailure    *prometheus.CounterVec
	deliveryLatency    prometheus.Histogram
	selections         prometheus.Counter
	cascadedRejections prometheus.Counter
	queueDepth         prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		deliveryPrimary: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventometer_delivery_primary_total",
			Help: "ダイレクトメッセージで配送された通知の合計数",
		}, []string{"kind"}),
		deliveryFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventometer_delivery_fallback_total",
			Help: "フォールバックチャンネル経由で配送された通知の合計数",
		}, []string{"kind"}),
		deliveryFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventometer_delivery_failure_total",
			Help: "配送に失敗した通知の合計数",
		}, []string{"kind"}),
		deliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventometer_delivery_latency_seconds",
			Help:    "通知のキュー投入から配送完了までのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		selections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventometer_selections_total",
			Help: "選出操作の合計数",
		}),
		cascadedRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventometer_cascaded_rejections_total",
			Help: "選出に伴って選外となった応募の合計数",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventometer_notification_queue_depth",
			Help: "配送待ちの通知ジョブ数",
		}),
	}

	reg.MustRegister(
		c.deliveryPrimary,
		c.deliveryFallback,
		c.deliveryFailure,
		c.deliveryLatency,
		c.selections,
		c.cascadedRejections,
		c.queueDepth,
	)

	return c
}

// RecordDeliveryPrimary はダイレクトメッセージでの配送成功を記録する。
func (c *Collector) RecordDeliveryPrimary(kind string) {
	c.deliveryPrimary.WithLabelValues(kind).Inc()
}

// RecordDeliveryFallback はフォールバック経由の配送を記録する。
func (c *Collector) RecordDeliveryFallback(kind string) {
	c.deliveryFallback.WithLabelValues(kind).Inc()
}

// RecordDeliveryFailure は配送失敗を記録する。
func (c *Collector) RecordDeliveryFailure(kind string) {
	c.deliveryFailure.WithLabelValues(kind).Inc()
}

// RecordDeliveryLatency はキュー投入から配送完了までのレイテンシを記録する。
func (c *Collector) RecordDeliveryLatency(duration time.Duration) {
	c.deliveryLatency.Observe(duration.Seconds())
}

// RecordSelection は選出操作を記録する。
func (c *Collector) RecordSelection() {
	c.selections.Inc()
}

// RecordCascadedRejections は選出に伴う選外件数を記録する。
func (c *Collector) RecordCascadedRejections(count int) {
	c.cascadedRejections.Add(float64(count))
}

// RecordQueueDepth は配送待ちジョブ数を記録する。
func (c *Collector) RecordQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

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
