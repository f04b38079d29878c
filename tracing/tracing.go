// Package tracing carries OpenTelemetry trace context across hardbus message headers.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/next-trace/scg-hardbus/contract/transport"
)

// Propagator implements transport.HeaderPropagator with an OpenTelemetry text-map propagator.
type Propagator struct {
	// TextMap defaults to otel.GetTextMapPropagator() at call time, so a global
	// propagator installed after construction is still honoured.
	TextMap propagation.TextMapPropagator
}

var _ transport.HeaderPropagator = Propagator{}

// New returns a propagator backed by tm, or by the global propagator when tm is nil.
func New(tm propagation.TextMapPropagator) Propagator { return Propagator{TextMap: tm} }

func (p Propagator) textMap() propagation.TextMapPropagator { //nolint:ireturn
	if p.TextMap != nil {
		return p.TextMap
	}

	return otel.GetTextMapPropagator()
}

func (p Propagator) Inject(ctx context.Context, headers map[string]string) {
	if headers == nil {
		return
	}

	p.textMap().Inject(ctx, propagation.MapCarrier(headers))
}

func (p Propagator) Extract(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}

	return p.textMap().Extract(ctx, propagation.MapCarrier(headers))
}
