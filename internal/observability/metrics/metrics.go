package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes audit workflow instruments.
type Metrics struct {
	classifications  metric.Int64Counter
	findings         metric.Int64Counter
	assignments      metric.Int64Counter
	unassigned       metric.Int64Counter
	glosaTransitions metric.Int64Counter
	httpDuration     metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "medaudit"
	}
	meter := provider.Meter(name)

	var m Metrics
	var err error
	if m.classifications, err = meter.Int64Counter("medaudit_classifications_total"); err != nil {
		return nil, err
	}
	if m.findings, err = meter.Int64Counter("medaudit_preaudit_findings_total"); err != nil {
		return nil, err
	}
	if m.assignments, err = meter.Int64Counter("medaudit_assignments_bound_total"); err != nil {
		return nil, err
	}
	if m.unassigned, err = meter.Int64Counter("medaudit_assignments_unassigned_total"); err != nil {
		return nil, err
	}
	if m.glosaTransitions, err = meter.Int64Counter("medaudit_glosa_transitions_total"); err != nil {
		return nil, err
	}
	if m.httpDuration, err = meter.Float64Histogram("medaudit_http_request_duration_ms", metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordClassification counts one classify call and its findings by kind.
func (m *Metrics) RecordClassification(ctx context.Context, outcome string, devolutions, glosas int) {
	if m == nil {
		return
	}
	m.classifications.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("outcome", outcome))...))
	if devolutions > 0 {
		m.findings.Add(ctx, int64(devolutions), metric.WithAttributes(FilterAttributes(attribute.String("kind", "devolution"))...))
	}
	if glosas > 0 {
		m.findings.Add(ctx, int64(glosas), metric.WithAttributes(FilterAttributes(attribute.String("kind", "glosa"))...))
	}
}

func (m *Metrics) RecordAssignmentBound(ctx context.Context, category string) {
	if m == nil {
		return
	}
	m.assignments.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("category", category))...))
}

func (m *Metrics) RecordUnassigned(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.unassigned.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("reason", reason))...))
}

func (m *Metrics) RecordGlosaTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from_state", from),
		attribute.String("to_state", to),
	)
	m.glosaTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("route", route),
		attribute.Int("status_code", status),
	)
	m.httpDuration.Record(ctx, float64(elapsed.Microseconds())/1000, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Claim, auditor and pre-glosa identifiers never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"outcome":     {},
	"kind":        {},
	"category":    {},
	"reason":      {},
	"from_state":  {},
	"to_state":    {},
	"route":       {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
