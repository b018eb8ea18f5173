// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/customervoice/internal/apiclient"
)

// Collector はPrometheusメトリクスを収集する。
// apiclient.Recorder と digest.RunObserver を満たす。
type Collector struct {
	apiRequests   *prometheus.CounterVec
	apiLatency    *prometheus.HistogramVec
	apiRetries    *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
	digestRuns    *prometheus.CounterVec
	reviewsIngest prometheus.Counter
	workspaces    prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "customervoice_api_requests_total",
			Help: "REST API呼び出しの試行回数（結果別）",
		}, []string{"method", "outcome"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "customervoice_api_request_duration_seconds",
			Help:    "REST API呼び出し1試行のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		apiRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "customervoice_api_retries_total",
			Help: "429による再試行の回数",
		}, []string{"method"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "customervoice_http_responses_total",
			Help: "ダッシュボードサーバーのステータスコード別レスポンス数",
		}, []string{"status_code"}),
		digestRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "customervoice_digest_runs_total",
			Help: "定期ダイジェストの実行結果",
		}, []string{"status"}),
		reviewsIngest: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "customervoice_reviews_ingested_total",
			Help: "取り込みに成功したレビューの合計数",
		}),
		workspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "customervoice_workspaces",
			Help: "メモリ上に保持しているワークスペース数",
		}),
	}

	reg.MustRegister(
		c.apiRequests,
		c.apiLatency,
		c.apiRetries,
		c.httpStatus,
		c.digestRuns,
		c.reviewsIngest,
		c.workspaces,
	)

	return c
}

// ObserveRequest はREST API呼び出し1試行の結果を記録する。
func (c *Collector) ObserveRequest(method string, outcome apiclient.Outcome, duration time.Duration) {
	c.apiRequests.WithLabelValues(method, outcome.String()).Inc()
	c.apiLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveRetry は再試行を記録する。
func (c *Collector) ObserveRetry(method string) {
	c.apiRetries.WithLabelValues(method).Inc()
}

// RecordHTTPStatus はダッシュボードサーバーのレスポンスを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// ObserveDigestRun は定期ダイジェストの結果を記録する。
func (c *Collector) ObserveDigestRun(status string) {
	c.digestRuns.WithLabelValues(status).Inc()
}

// RecordReviewsIngested は取り込んだレビュー数を加算する。
func (c *Collector) RecordReviewsIngested(count int) {
	if count > 0 {
		c.reviewsIngest.Add(float64(count))
	}
}

// SetWorkspaces は保持中のワークスペース数を設定する。
func (c *Collector) SetWorkspaces(n int) {
	c.workspaces.Set(float64(n))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
