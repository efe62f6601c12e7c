// Package telemetry holds the otel instruments the relay records into. With no
// OTLP endpoint configured every instrument is a noop.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/multierr"

	"github.com/tungdtfgw/ccviz/pkg/types"
)

const meterName = "github.com/tungdtfgw/ccviz"

type Metrics struct {
	received  metric.Int64Counter
	broadcast metric.Int64Counter
	dropped   metric.Int64Counter
	sessions  metric.Int64UpDownCounter
	clients   metric.Int64UpDownCounter
}

// Setup returns the meter provider to build Metrics from and its shutdown
// func. An empty endpoint yields a noop provider.
func Setup(ctx context.Context, endpoint string, interval time.Duration) (metric.MeterProvider, func(context.Context) error, error) {
	if endpoint == "" {
		return noop.NewMeterProvider(), func(context.Context) error { return nil }, nil
	}
	exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, nil, fmt.Errorf("otlp exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)
	return mp, mp.Shutdown, nil
}

func New(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err, errs error

	m.received, err = meter.Int64Counter("ccviz.events.received",
		metric.WithDescription("Events submitted to the relay"))
	errs = multierr.Append(errs, err)
	m.broadcast, err = meter.Int64Counter("ccviz.events.broadcast",
		metric.WithDescription("Events fanned out to clients"))
	errs = multierr.Append(errs, err)
	m.dropped, err = meter.Int64Counter("ccviz.events.dropped",
		metric.WithDescription("Events absorbed without a broadcast"))
	errs = multierr.Append(errs, err)
	m.sessions, err = meter.Int64UpDownCounter("ccviz.sessions.open",
		metric.WithDescription("Seated sessions"))
	errs = multierr.Append(errs, err)
	m.clients, err = meter.Int64UpDownCounter("ccviz.clients.connected",
		metric.WithDescription("Connected socket clients"))
	errs = multierr.Append(errs, err)

	if errs != nil {
		return nil, errs
	}
	return m, nil
}

// Nop is used by tests and when metrics fail to initialise.
func Nop() *Metrics {
	m, _ := New(noop.NewMeterProvider())
	return m
}

func typeAttr(t types.EventType) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("type", string(t)))
}

func (m *Metrics) EventReceived(ctx context.Context, t types.EventType) {
	if m == nil {
		return
	}
	m.received.Add(ctx, 1, typeAttr(t))
}

func (m *Metrics) EventBroadcast(ctx context.Context, t types.EventType) {
	if m == nil {
		return
	}
	m.broadcast.Add(ctx, 1, typeAttr(t))
}

func (m *Metrics) EventDropped(ctx context.Context, t types.EventType, reason string) {
	if m == nil {
		return
	}
	m.dropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(t)),
		attribute.String("reason", reason),
	))
}

func (m *Metrics) SessionsChanged(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, delta)
}

func (m *Metrics) ClientsChanged(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.clients.Add(ctx, delta)
}
