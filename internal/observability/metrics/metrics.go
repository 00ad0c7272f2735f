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

// Metrics exposes application-level instruments.
type Metrics struct {
	eventsIngested       metric.Int64Counter
	eventsDeduplicated   metric.Int64Counter
	scoreRecomputes      metric.Int64Counter
	featuringTransitions metric.Int64Counter
	milestoneGrants      metric.Int64Counter
	showcaseAdmissions   metric.Int64Counter
	sideEffectsPublished metric.Int64Counter
	rateLimitAllowed     metric.Int64Counter
	rateLimitDenied      metric.Int64Counter
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
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "growth"
	}
	meter := provider.Meter(name)

	eventsIngested, err := meter.Int64Counter("growth_events_ingested_total")
	if err != nil {
		return nil, err
	}
	eventsDeduplicated, err := meter.Int64Counter("growth_events_deduplicated_total")
	if err != nil {
		return nil, err
	}
	scoreRecomputes, err := meter.Int64Counter("growth_score_recomputes_total")
	if err != nil {
		return nil, err
	}
	featuringTransitions, err := meter.Int64Counter("growth_featuring_transitions_total")
	if err != nil {
		return nil, err
	}
	milestoneGrants, err := meter.Int64Counter("growth_milestone_grants_total")
	if err != nil {
		return nil, err
	}
	showcaseAdmissions, err := meter.Int64Counter("growth_showcase_admissions_total")
	if err != nil {
		return nil, err
	}
	sideEffectsPublished, err := meter.Int64Counter("growth_side_effects_published_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("growth_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("growth_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		eventsIngested:       eventsIngested,
		eventsDeduplicated:   eventsDeduplicated,
		scoreRecomputes:      scoreRecomputes,
		featuringTransitions: featuringTransitions,
		milestoneGrants:      milestoneGrants,
		showcaseAdmissions:   showcaseAdmissions,
		sideEffectsPublished: sideEffectsPublished,
		rateLimitAllowed:     rateLimitAllowed,
		rateLimitDenied:      rateLimitDenied,
	}, nil
}

// RecordEventIngested increments the ingest counter by event kind.
func (m *Metrics) RecordEventIngested(ctx context.Context, kind, platform string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_kind", strings.TrimSpace(kind)),
		attribute.String("platform", strings.TrimSpace(platform)),
	)
	m.eventsIngested.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEventDeduplicated counts replays absorbed by the idempotency ledger.
func (m *Metrics) RecordEventDeduplicated(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_kind", strings.TrimSpace(kind)))
	m.eventsDeduplicated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordScoreRecompute increments score recompute counts.
func (m *Metrics) RecordScoreRecompute(ctx context.Context) {
	if m == nil {
		return
	}
	m.scoreRecomputes.Add(ctx, 1)
}

// RecordFeaturingTransition increments featuring transition counts.
func (m *Metrics) RecordFeaturingTransition(ctx context.Context, from, to, trigger string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from_status", strings.TrimSpace(from)),
		attribute.String("to_status", strings.TrimSpace(to)),
		attribute.String("trigger", strings.TrimSpace(trigger)),
	)
	m.featuringTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordMilestoneGrant increments milestone grant counts.
func (m *Metrics) RecordMilestoneGrant(ctx context.Context, milestone, tier string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("milestone", strings.TrimSpace(milestone)),
		attribute.String("tier", strings.TrimSpace(tier)),
	)
	m.milestoneGrants.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordShowcaseAdmission counts sites admitted during a curation cycle.
func (m *Metrics) RecordShowcaseAdmission(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.showcaseAdmissions.Add(ctx, int64(count))
}

// RecordSideEffectPublished counts outbox records handed to subscribers.
func (m *Metrics) RecordSideEffectPublished(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("effect_kind", strings.TrimSpace(kind)))
	m.sideEffectsPublished.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
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

// Site and user ids are deliberately not allowed; they are unbounded.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"event_kind":  {},
	"platform":    {},
	"from_status": {},
	"to_status":   {},
	"trigger":     {},
	"milestone":   {},
	"tier":        {},
	"effect_kind": {},
	"endpoint":    {},
	"status_code": {},
	"reason":      {},
	"job":         {},
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
