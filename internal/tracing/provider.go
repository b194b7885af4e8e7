// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Provider owns the tracer and meter providers.
type Provider struct {
	tp       *sdktrace.TracerProvider
	tracer   trace.Tracer
	mp       *sdkmetric.MeterProvider
	metrics  *Metrics
	registry *prometheus.Registry

	shutdownOnce sync.Once
}

// Option customizes a Provider.
type Option func(*options)

type options struct {
	registry *prometheus.Registry
	spanOpts []sdktrace.TracerProviderOption
}

// WithRegistry exports metrics to registry instead of the default
// Prometheus registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithSpanProcessor adds a span processor, such as a test recorder.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *options) { o.spanOpts = append(o.spanOpts, sdktrace.WithSpanProcessor(sp)) }
}

// NewProvider creates the providers, installs them globally with the W3C
// propagator and prepares the metric instruments. Spans are only recorded
// when cfg.Enabled is set.
func NewProvider(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// Note: no SchemaURL, so merging with the default resource cannot conflict
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	p := &Provider{registry: o.registry}

	if cfg.Enabled {
		tpOpts := []sdktrace.TracerProviderOption{
			sdktrace.WithResource(res),
			sdktrace.WithSampler(newSampler(cfg.SampleRate)),
		}
		exporter, err := NewExporter(ctx, cfg, nil)
		if err != nil {
			return nil, err
		}
		if exporter != nil {
			tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(cfg.BatchInterval)))
		}
		p.tp = sdktrace.NewTracerProvider(append(tpOpts, o.spanOpts...)...)
		otel.SetTracerProvider(p.tp)
		p.tracer = p.tp.Tracer("folio")
	} else {
		p.tracer = noop.NewTracerProvider().Tracer("folio")
	}
	otel.SetTextMapPropagator(W3CPropagator())

	var promOpts []otelprom.Option
	if o.registry != nil {
		promOpts = append(promOpts, otelprom.WithRegisterer(o.registry))
	}
	promExporter, err := otelprom.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	p.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)

	p.metrics, err = NewMetrics(p.mp)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	return p, nil
}

// Tracer returns the provider's tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Metrics returns the metric instruments.
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// Observer returns an engine observer backed by this provider.
func (p *Provider) Observer() *Observer {
	return NewObserver(p.tracer, p.metrics)
}

// MetricsHandler serves the Prometheus exposition. The OpenTelemetry
// exporter registers with the default registry unless WithRegistry was
// given, and the inbox's promauto counters live there too.
func (p *Provider) MetricsHandler() http.Handler {
	if p.registry != nil {
		return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// Shutdown flushes pending spans and releases resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	var err error
	p.shutdownOnce.Do(func() {
		if p.tp != nil {
			if e := p.tp.Shutdown(ctx); e != nil {
				err = e
			}
		}
		if e := p.mp.Shutdown(ctx); e != nil && err == nil {
			err = e
		}
	})
	return err
}
