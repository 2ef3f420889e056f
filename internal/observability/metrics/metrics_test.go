package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("reason", "NO_ELIGIBLE_AUDITOR"),
		attribute.String("auditor_id", "aud-1"),
		attribute.String("claim_transaction_id", "123"),
		attribute.String("category", "MEDICAL"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("reason"), attrs[0].Key)
	assert.Equal(t, attribute.Key("category"), attrs[1].Key)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordClassification(ctx, "clean", 0, 0)
		m.RecordAssignmentBound(ctx, "MEDICAL")
		m.RecordUnassigned(ctx, "ALREADY_ASSIGNED")
		m.RecordGlosaTransition(ctx, "NONE", "GLOSADA")
		m.RecordHTTPRequest(ctx, "/health", 200, time.Millisecond)
	})
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RecordClassification(context.Background(), "glosas", 0, 3)
	})
}
