package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turtacn/credcore/internal/domain/service"
)

const namespace = "credcore"

// Metrics manages the Prometheus metrics of the credential core.
// Every instance owns its registry.
type Metrics struct {
	registry *prometheus.Registry

	KeyOperations     *prometheus.CounterVec
	KeyOperationTime  *prometheus.HistogramVec
	TokenIssued       *prometheus.CounterVec
	TokenIssueLatency *prometheus.HistogramVec
	TokenVerified     *prometheus.CounterVec
	SessionOperations *prometheus.CounterVec
	RefreshReuse      *prometheus.CounterVec
	ContainedSessions *prometheus.CounterVec
	CacheAccess       *prometheus.CounterVec
	DBQueryDuration   *prometheus.HistogramVec
	VaultAPIDuration  *prometheus.HistogramVec
	SweepRemoved      *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

var _ service.Metrics = (*Metrics)(nil)

// NewMetrics creates and registers the metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		KeyOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "key_operations_total",
			Help: "Key provision and rotation calls.",
		}, []string{"operation", "owner_kind", "result"}),
		KeyOperationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "key_operation_duration_seconds",
			Help:    "Latency of key provision and rotation, including key generation.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"operation", "owner_kind"}),
		TokenIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "token_issue_total",
			Help: "Access tokens signed.",
		}, []string{"owner_kind", "result", "error_kind"}),
		TokenIssueLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "token_issue_duration_seconds",
			Help:    "Latency of access token signing.",
			Buckets: prometheus.DefBuckets,
		}, []string{"owner_kind"}),
		TokenVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "token_verify_total",
			Help: "Access token verifications.",
		}, []string{"owner_kind", "result", "error_kind"}),
		SessionOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "session_operations_total",
			Help: "Session open, refresh and revoke calls.",
		}, []string{"operation", "owner_kind", "result", "error_kind"}),
		RefreshReuse: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "refresh_token_reuse_total",
			Help: "Detected refresh token replays.",
		}, []string{"owner_kind"}),
		ContainedSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "refresh_reuse_contained_sessions_total",
			Help: "Sessions revoked by replay containment.",
		}, []string{"owner_kind"}),
		CacheAccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_access_total",
			Help: "Cache lookups by tier and outcome.",
		}, []string{"cache", "result"}),
		DBQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "db_query_duration_seconds",
			Help:    "Store operation latency.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
		VaultAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "vault_api_duration_seconds",
			Help:    "Vault API call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "result"}),
		SweepRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweep_removed_total",
			Help: "Rows cleaned up by the sweeper.",
		}, []string{"kind"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.KeyOperations, m.KeyOperationTime,
		m.TokenIssued, m.TokenIssueLatency, m.TokenVerified,
		m.SessionOperations, m.RefreshReuse, m.ContainedSessions,
		m.CacheAccess, m.DBQueryDuration, m.VaultAPIDuration,
		m.SweepRemoved, m.HTTPRequests, m.HTTPDuration,
	)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (m *Metrics) RecordKeyOperation(operation, ownerKind string, success bool, duration time.Duration) {
	m.KeyOperations.WithLabelValues(operation, ownerKind, result(success)).Inc()
	m.KeyOperationTime.WithLabelValues(operation, ownerKind).Observe(duration.Seconds())
}

func (m *Metrics) RecordTokenIssue(ownerKind string, success bool, duration time.Duration, errorKind string) {
	m.TokenIssued.WithLabelValues(ownerKind, result(success), errorKind).Inc()
	m.TokenIssueLatency.WithLabelValues(ownerKind).Observe(duration.Seconds())
}

func (m *Metrics) RecordTokenVerify(ownerKind string, success bool, errorKind string) {
	m.TokenVerified.WithLabelValues(ownerKind, result(success), errorKind).Inc()
}

func (m *Metrics) RecordSessionOperation(operation, ownerKind string, success bool, errorKind string) {
	m.SessionOperations.WithLabelValues(operation, ownerKind, result(success), errorKind).Inc()
}

func (m *Metrics) RecordRefreshReuse(ownerKind string, containedSessions int64) {
	m.RefreshReuse.WithLabelValues(ownerKind).Inc()
	m.ContainedSessions.WithLabelValues(ownerKind).Add(float64(containedSessions))
}

func (m *Metrics) RecordCacheAccess(cacheType string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheAccess.WithLabelValues(cacheType, outcome).Inc()
}

func (m *Metrics) RecordDBQuery(operation string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordVaultAPI(operation string, duration time.Duration, err error) {
	m.VaultAPIDuration.WithLabelValues(operation, result(err == nil)).Observe(duration.Seconds())
}

func (m *Metrics) RecordSweep(sessionsDeleted, keysRevoked int64) {
	m.SweepRemoved.WithLabelValues("sessions").Add(float64(sessionsDeleted))
	m.SweepRemoved.WithLabelValues("keys").Add(float64(keysRevoked))
}

// ObserveHTTPRequest records one served HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
