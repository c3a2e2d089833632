// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/moviestream/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証、バックエンドクライアント、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordSignIn(provider, outcome string)
	RecordExchangeFailure(reason string)
	RecordAuthorizationView(state model.AuthState)
	RecordBackendRequest(endpoint string, statusCode int, duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signIns          *prometheus.CounterVec
	exchangeFailures *prometheus.CounterVec
	views            *prometheus.CounterVec
	backendRequests  *prometheus.CounterVec
	backendLatency   *prometheus.HistogramVec
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moviestream_signin_total",
			Help: "プロバイダーと結果別のサインイン試行数",
		}, []string{"provider", "outcome"}),
		exchangeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moviestream_token_exchange_failures_total",
			Help: "トークン交換の失敗数（識別情報のみのセッションにフォールバック）",
		}, []string{"reason"}),
		views: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moviestream_authorization_views_total",
			Help: "状態別の認可ビュー観測数",
		}, []string{"state"}),
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moviestream_backend_requests_total",
			Help: "エンドポイントとステータスコード別のバックエンド呼び出し数",
		}, []string{"endpoint", "status_code"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moviestream_backend_request_duration_seconds",
			Help:    "バックエンド呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moviestream_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.signIns,
		c.exchangeFailures,
		c.views,
		c.backendRequests,
		c.backendLatency,
		c.httpStatus,
	)

	return c
}

// RecordSignIn はサインイン試行の結果を記録する。
func (c *Collector) RecordSignIn(provider, outcome string) {
	c.signIns.WithLabelValues(provider, outcome).Inc()
}

// RecordExchangeFailure はトークン交換の失敗を記録する。
func (c *Collector) RecordExchangeFailure(reason string) {
	c.exchangeFailures.WithLabelValues(reason).Inc()
}

// RecordAuthorizationView は観測された認可ビューの状態を記録する。
func (c *Collector) RecordAuthorizationView(state model.AuthState) {
	c.views.WithLabelValues(string(state)).Inc()
}

// RecordBackendRequest はバックエンド呼び出しを記録する。
// statusCodeが0の場合はトランスポートエラーとして"error"ラベルで記録する。
func (c *Collector) RecordBackendRequest(endpoint string, statusCode int, duration time.Duration) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	c.backendRequests.WithLabelValues(endpoint, status).Inc()
	c.backendLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
