package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"gorm.io/gorm"
)

const (
	RelayReasonDeadlineExceeded = "deadline_exceeded"
	RelayReasonBreakerOpen      = "breaker_open"
	RelayReasonDBLockTimeout    = "db_lock_timeout"
	RelayReasonDB               = "db"
	RelayReasonPublish          = "publish"
)

// RelayMetrics captures traceability relay health signals.
type RelayMetrics struct {
	runs          *prometheus.CounterVec
	published     prometheus.Counter
	errors        *prometheus.CounterVec
	batchDuration prometheus.Histogram
	lastOffset    prometheus.Gauge
}

var (
	relayMetricsOnce sync.Once
	relayMetrics     *RelayMetrics
)

// Relay returns the process-wide relay metrics registered on the default registerer.
func Relay(cfg Config) *RelayMetrics {
	relayMetricsOnce.Do(func() {
		relayMetrics = NewRelayMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return relayMetrics
}

func NewRelayMetrics(registerer prometheus.Registerer, cfg Config) *RelayMetrics {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "medaudit"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &RelayMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "medaudit_trace_relay_runs_total",
			Help:        "Traceability relay polling runs by status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "medaudit_trace_relay_published_total",
			Help:        "Traceability entries published downstream.",
			ConstLabels: constLabels,
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "medaudit_trace_relay_errors_total",
			Help:        "Traceability relay errors by reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "medaudit_trace_relay_batch_duration_seconds",
			Help:        "Traceability relay batch durations.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
		lastOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "medaudit_trace_relay_offset",
			Help:        "Last traceability entry id relayed.",
			ConstLabels: constLabels,
		}),
	}
	if registerer != nil {
		registerer.MustRegister(m.runs, m.published, m.errors, m.batchDuration, m.lastOffset)
	}
	return m
}

func (m *RelayMetrics) ObserveBatch(status string, published int, offset int64, duration time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	if published > 0 {
		m.published.Add(float64(published))
	}
	if offset > 0 {
		m.lastOffset.Set(float64(offset))
	}
	m.batchDuration.Observe(duration.Seconds())
}

func (m *RelayMetrics) IncError(err error) {
	if m == nil || err == nil {
		return
	}
	m.errors.WithLabelValues(ClassifyRelayError(err)).Inc()
}

// ClassifyRelayError maps relay errors to low-cardinality reasons.
func ClassifyRelayError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return RelayReasonDeadlineExceeded
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return RelayReasonBreakerOpen
	case hasPGCode(err, "55P03"):
		return RelayReasonDBLockTimeout
	case isDBError(err):
		return RelayReasonDB
	default:
		return RelayReasonPublish
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrRecordNotFound) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
