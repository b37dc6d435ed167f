// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアやセッションリゾルバーから利用する。
type MetricsCollector interface {
	RecordAuthAttempt(result string)
	RecordRateLimited(endpointClass string)
	RecordSessionResolution(state string)
	RecordRefresh(outcome string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authAttempts    *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	sessionResolved *prometheus.CounterVec
	refreshOutcome  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "terakoya_auth_attempts_total",
			Help: "認証試行の結果別合計数",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "terakoya_rate_limited_total",
			Help: "レート制限で拒否されたリクエストのエンドポイント種別ごとの合計数",
		}, []string{"endpoint_class"}),
		sessionResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "terakoya_session_resolutions_total",
			Help: "セッション解決結果の状態別合計数",
		}, []string{"state"}),
		refreshOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "terakoya_session_refresh_total",
			Help: "トークンリフレッシュの結果別合計数",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.rateLimited,
		c.sessionResolved,
		c.refreshOutcome,
	)

	return c
}

// RecordAuthAttempt は認証試行の結果（success/rejected/unavailable）を記録する。
func (c *Collector) RecordAuthAttempt(result string) {
	c.authAttempts.WithLabelValues(result).Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(endpointClass string) {
	c.rateLimited.WithLabelValues(endpointClass).Inc()
}

// RecordSessionResolution はセッション解決結果を記録する。
func (c *Collector) RecordSessionResolution(state string) {
	c.sessionResolved.WithLabelValues(state).Inc()
}

// RecordRefresh はトークンリフレッシュの結果を記録する。
func (c *Collector) RecordRefresh(outcome string) {
	c.refreshOutcome.WithLabelValues(outcome).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
