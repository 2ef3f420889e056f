package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

func TestClassifyRelayError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: RelayReasonDeadlineExceeded},
		{name: "breaker", err: fmt.Errorf("publish: %w", gobreaker.ErrOpenState), want: RelayReasonBreakerOpen},
		{name: "lock timeout", err: &pgconn.PgError{Code: "55P03"}, want: RelayReasonDBLockTimeout},
		{name: "other pg", err: &pgconn.PgError{Code: "08006"}, want: RelayReasonDB},
		{name: "unknown", err: errors.New("channel closed"), want: RelayReasonPublish},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyRelayError(tc.err))
		})
	}
}

func TestRelayMetricsObserveBatch(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewRelayMetrics(registry, Config{ServiceName: "medaudit", Environment: "test"})

	m.ObserveBatch("ok", 3, 42, 10*time.Millisecond)
	m.ObserveBatch("empty", 0, 0, time.Millisecond)
	m.IncError(errors.New("boom"))

	assert.Equal(t, float64(3), testutil.ToFloat64(m.published))
	assert.Equal(t, float64(42), testutil.ToFloat64(m.lastOffset))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.errors.WithLabelValues(RelayReasonPublish)))
}
