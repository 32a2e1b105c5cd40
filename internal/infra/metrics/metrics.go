// Package metrics exposes routing, registry and coordination counters through
// the OpenTelemetry metric API, exported in Prometheus format.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"agentlink/internal/domain"
	"agentlink/internal/infra/config"
)

const meterName = "agentlink"

// Metrics records service metrics. A disabled Metrics records into a no-op
// meter and serves 404 on its handler.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler

	decisions      metric.Int64Counter
	routeLatency   metric.Float64Histogram
	refreshes      metric.Int64Counter
	registryAgents metric.Int64Gauge
	runs           metric.Int64Counter
	runDuration    metric.Float64Histogram
	runSteps       metric.Int64Histogram
	httpRequests   metric.Int64Counter
	httpDuration   metric.Float64Histogram
}

// New creates Metrics. When cfg.Enabled, a dedicated Prometheus registry
// backs the exporter so tests can build several instances.
func New(cfg config.MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		m := &Metrics{handler: http.NotFoundHandler()}
		return m, m.init(noop.NewMeterProvider().Meter(meterName))
	}

	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	m := &Metrics{
		provider: provider,
		handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	if err := m.init(provider.Meter(meterName)); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) init(meter metric.Meter) error {
	var err error
	if m.decisions, err = meter.Int64Counter("agentlink_routing_decisions_total",
		metric.WithDescription("Routing decisions by mode and outcome")); err != nil {
		return fmt.Errorf("routing decisions counter: %w", err)
	}
	if m.routeLatency, err = meter.Float64Histogram("agentlink_routing_latency_seconds",
		metric.WithDescription("Time from receipt to terminal routing state"),
		metric.WithUnit("s")); err != nil {
		return fmt.Errorf("routing latency histogram: %w", err)
	}
	if m.refreshes, err = meter.Int64Counter("agentlink_registry_refreshes_total",
		metric.WithDescription("Directory refreshes by result")); err != nil {
		return fmt.Errorf("registry refreshes counter: %w", err)
	}
	if m.registryAgents, err = meter.Int64Gauge("agentlink_registry_directory_agents",
		metric.WithDescription("Agents in the last successful directory snapshot")); err != nil {
		return fmt.Errorf("registry agents gauge: %w", err)
	}
	if m.runs, err = meter.Int64Counter("agentlink_protocol_runs_total",
		metric.WithDescription("Coordination protocol runs by protocol and result")); err != nil {
		return fmt.Errorf("protocol runs counter: %w", err)
	}
	if m.runDuration, err = meter.Float64Histogram("agentlink_protocol_duration_seconds",
		metric.WithDescription("Coordination protocol run duration"),
		metric.WithUnit("s")); err != nil {
		return fmt.Errorf("protocol duration histogram: %w", err)
	}
	if m.runSteps, err = meter.Int64Histogram("agentlink_protocol_steps",
		metric.WithDescription("Steps recorded per protocol run")); err != nil {
		return fmt.Errorf("protocol steps histogram: %w", err)
	}
	if m.httpRequests, err = meter.Int64Counter("agentlink_http_requests_total",
		metric.WithDescription("HTTP requests by route, method and status")); err != nil {
		return fmt.Errorf("http requests counter: %w", err)
	}
	if m.httpDuration, err = meter.Float64Histogram("agentlink_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s")); err != nil {
		return fmt.Errorf("http duration histogram: %w", err)
	}
	return nil
}

// Handler serves the Prometheus exposition.
func (m *Metrics) Handler() http.Handler { return m.handler }

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordDecision implements usecase.DecisionRecorder.
func (m *Metrics) RecordDecision(ctx context.Context, d domain.RoutingDecision) {
	attrs := metric.WithAttributes(
		attribute.String("mode", string(d.Mode)),
		attribute.String("outcome", string(d.Outcome)),
	)
	m.decisions.Add(ctx, 1, attrs)
	m.routeLatency.Record(ctx, d.Latency.Seconds(), attrs)
}

// RecordRefresh implements multiagent.RefreshRecorder.
func (m *Metrics) RecordRefresh(ctx context.Context, agents int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	if err == nil {
		m.registryAgents.Record(ctx, int64(agents))
	}
}

// RecordRun implements coordination.RunRecorder.
func (m *Metrics) RecordRun(ctx context.Context, run *domain.ProtocolRun) {
	result := "ok"
	if run.Err != nil {
		result = string(domain.ErrorCodeOf(run.Err))
	}
	attrs := metric.WithAttributes(
		attribute.String("protocol", string(run.Protocol)),
		attribute.String("result", result),
	)
	m.runs.Add(ctx, 1, attrs)
	if run.Sealed() {
		m.runDuration.Record(ctx, run.SealedAt.Sub(run.StartedAt).Seconds(), attrs)
	}
	m.runSteps.Record(ctx, int64(len(run.Steps)), metric.WithAttributes(attribute.String("protocol", string(run.Protocol))))
}

// RecordHTTP records one served request. route is the chi route pattern.
func (m *Metrics) RecordHTTP(ctx context.Context, route, method string, status int, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("method", method),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, d.Seconds(), attrs)
}
