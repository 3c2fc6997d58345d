// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値
const (
	LoginSucceeded        = "success"
	LoginRejected         = "rejected"
	LoginEmptyResponse    = "empty_response"
	LoginAuditWriteFailed = "audit_write_failed"
)

// IdPへの呼び出し種別のラベル値
const (
	OperationAuthenticate = "authenticate"
	OperationGetProfile   = "get_profile"
	OperationListUsers    = "list_users"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ゲートウェイやHTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(outcome string)
	RecordProviderCall(operation string, err error, duration time.Duration)
	RecordAuditWrite(err error)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	auditWrites     *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_login_total",
			Help: "結果別のログイン試行数",
		}, []string{"outcome"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_provider_requests_total",
			Help: "IdP呼び出しの操作・結果別の合計数",
		}, []string{"operation", "result"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authgate_provider_latency_seconds",
			Help:    "IdP呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		auditWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_audit_writes_total",
			Help: "監査レコード書き込みの結果別の合計数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.providerCalls,
		c.providerLatency,
		c.auditWrites,
		c.httpStatus,
	)

	return c
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordProviderCall はIdP呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordProviderCall(operation string, err error, duration time.Duration) {
	c.providerCalls.WithLabelValues(operation, result(err)).Inc()
	c.providerLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAuditWrite は監査レコード書き込みの結果を記録する。
func (c *Collector) RecordAuditWrite(err error) {
	c.auditWrites.WithLabelValues(result(err)).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordLogin(string)                              {}
func (Nop) RecordProviderCall(string, error, time.Duration) {}
func (Nop) RecordAuditWrite(error)                          {}
func (Nop) RecordHTTPStatus(int)                            {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
