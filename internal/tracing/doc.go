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

/*
Package tracing provides OpenTelemetry tracing and metrics for runs.

A Provider owns the tracer and meter providers. Its Observer plugs into the
engine and turns the run lifecycle into telemetry:

  - one span per run, with a child span per node attempt
  - counters for runs and node attempts by outcome
  - histograms for run and node durations
  - a gauge of runs currently executing

Metrics are exported through the default Prometheus registry and served by
the API's /metrics endpoint. Spans go to stdout, an OTLP gRPC receiver or
an OTLP HTTP receiver.

# Quick Start

	provider, err := tracing.NewProvider(ctx, tracing.Config{
	    Enabled:     true,
	    ServiceName: "folio",
	    Exporter:    tracing.ExporterOTLP,
	    Endpoint:    "localhost:4317",
	    Insecure:    true,
	})
	if err != nil {
	    return err
	}
	defer provider.Shutdown(ctx)

	eng := engine.New(registry, catalog, store).WithObserver(provider.Observer())

# Propagation

NewProvider installs the W3C trace context propagator. HTTPMiddleware
extracts incoming trace context and opens a server span per request; the
HTTP integration handlers inject it into outgoing requests, so a document
service sees the node attempt that called it as its parent.
*/
package tracing
