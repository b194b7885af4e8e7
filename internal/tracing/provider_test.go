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
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/folio/internal/config"
	"github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/execution"
)

func TestFromSettings(t *testing.T) {
	c := config.Default().Tracing
	c.Enabled = true
	c.Exporter = ExporterOTLPHTTP
	c.Endpoint = "collector:4318"
	c.Headers = map[string]string{"x-honeycomb-team": "key"}

	cfg := FromSettings(c, "1.2.0")
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "folio", cfg.ServiceName)
	assert.Equal(t, "1.2.0", cfg.ServiceVersion)
	assert.Equal(t, ExporterOTLPHTTP, cfg.Exporter)
	assert.Equal(t, "collector:4318", cfg.Endpoint)
	assert.Equal(t, "key", cfg.Headers["x-honeycomb-team"])
	assert.Equal(t, DefaultConfig().BatchInterval, cfg.BatchInterval)
}

func TestNewExporter(t *testing.T) {
	ctx := context.Background()

	var buf bytes.Buffer
	exp, err := NewExporter(ctx, Config{Exporter: ExporterStdout}, &buf)
	require.NoError(t, err)
	require.NotNil(t, exp)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	_, span := tp.Tracer("test").Start(ctx, "node ocr")
	span.End()
	require.NoError(t, tp.Shutdown(ctx))
	assert.Contains(t, buf.String(), "node ocr")

	exp, err = NewExporter(ctx, Config{Exporter: ExporterNone}, nil)
	require.NoError(t, err)
	assert.Nil(t, exp)

	_, err = NewExporter(ctx, Config{Exporter: "zipkin"}, nil)
	var cfgErr *errors.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "tracing.exporter", cfgErr.Key)

	// OTLP exporters connect lazily, so creation succeeds without a receiver
	exp, err = NewExporter(ctx, Config{Exporter: ExporterOTLP, Endpoint: "localhost:4317", Insecure: true}, nil)
	require.NoError(t, err)
	require.NoError(t, exp.Shutdown(ctx))

	exp, err = NewExporter(ctx, Config{Exporter: ExporterOTLPHTTP, Endpoint: "localhost:4318", Insecure: true}, nil)
	require.NoError(t, err)
	require.NoError(t, exp.Shutdown(ctx))
}

func TestBuildTLSConfig(t *testing.T) {
	cfg, err := buildTLSConfig("")
	require.NoError(t, err)
	assert.Nil(t, cfg.RootCAs)

	_, err = buildTLSConfig(filepath.Join(t.TempDir(), "missing.pem"))
	assert.ErrorContains(t, err, "failed to read CA certificate")

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))
	_, err = buildTLSConfig(bad)
	assert.ErrorContains(t, err, "no certificates found")
}

func TestSampler(t *testing.T) {
	params := func(attrs ...bool) sdktrace.SamplingParameters {
		p := sdktrace.SamplingParameters{ParentContext: context.Background(), TraceID: trace.TraceID{1}}
		for _, a := range attrs {
			p.Attributes = append(p.Attributes, attribute.Bool("error", a))
		}
		return p
	}

	assert.Equal(t, sdktrace.RecordAndSample, newSampler(1).ShouldSample(params()).Decision)
	assert.Equal(t, sdktrace.Drop, newSampler(0).ShouldSample(params()).Decision)
	assert.Equal(t, sdktrace.RecordAndSample, newSampler(0).ShouldSample(params(true)).Decision, "runs with errors are always sampled")
	assert.Contains(t, newSampler(0.5).Description(), "ErrorAwareSampler")
}

func TestNewProvider_Metrics(t *testing.T) {
	ctx := context.Background()
	registry := prometheus.NewRegistry()

	p, err := NewProvider(ctx, DefaultConfig(), WithRegistry(registry))
	require.NoError(t, err)
	defer p.Shutdown(ctx)

	st := &execution.State{RunID: "r1", WorkflowID: "standard", Status: execution.StatusRunning}
	p.Observer().RunStarted(ctx, st)

	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "folio_active_runs")

	require.NoError(t, p.Shutdown(ctx))
	require.NoError(t, p.Shutdown(ctx), "shutdown is idempotent")
}

func TestNewProvider_Spans(t *testing.T) {
	ctx := context.Background()
	spans := tracetest.NewSpanRecorder()
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = ExporterNone

	p, err := NewProvider(ctx, cfg, WithRegistry(prometheus.NewRegistry()), WithSpanProcessor(spans))
	require.NoError(t, err)
	defer p.Shutdown(ctx)

	_, span := p.Tracer().Start(ctx, "run standard")
	span.End()
	require.Len(t, spans.Ended(), 1)
	assert.Equal(t, "run standard", spans.Ended()[0].Name())
}

func TestHTTPMiddleware(t *testing.T) {
	ctx := context.Background()
	spans := tracetest.NewSpanRecorder()
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = ExporterNone
	p, err := NewProvider(ctx, cfg, WithRegistry(prometheus.NewRegistry()), WithSpanProcessor(spans))
	require.NoError(t, err)
	defer p.Shutdown(ctx)

	var seen trace.SpanContext
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		seen = trace.SpanContextFromContext(r.Context())
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "{}")
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/abc", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	HTTPMiddleware(mux).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", seen.TraceID().String(), "the incoming trace is continued")

	require.Len(t, spans.Ended(), 1)
	assert.Equal(t, "GET /v1/runs/{id}", spans.Ended()[0].Name())
}
