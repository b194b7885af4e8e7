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
	"time"

	"github.com/tombee/folio/internal/config"
)

// Exporter types.
const (
	ExporterStdout   = "stdout"
	ExporterOTLP     = "otlp"
	ExporterOTLPHTTP = "otlp-http"
	ExporterNone     = "none"
)

// Config holds observability configuration.
type Config struct {
	// Enabled controls whether spans are exported. Metrics are always
	// recorded so /metrics works without a trace backend.
	Enabled bool

	// ServiceName identifies this service in traces.
	ServiceName string

	// ServiceVersion is the application version.
	ServiceVersion string

	// Exporter is one of stdout, otlp, otlp-http or none.
	Exporter string

	// Endpoint is the OTLP receiver address.
	Endpoint string

	// Insecure disables TLS for OTLP exporters.
	Insecure bool

	// CACertPath verifies the receiver with a custom CA bundle.
	CACertPath string

	// Headers are sent with every export.
	Headers map[string]string

	// SampleRate is the fraction of runs traced (0.0 - 1.0).
	SampleRate float64

	// BatchInterval is how often spans are flushed (default: 5s).
	BatchInterval time.Duration
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:        false, // Opt-in
		ServiceName:    "folio",
		ServiceVersion: "unknown",
		Exporter:       ExporterStdout,
		SampleRate:     1.0,
		BatchInterval:  5 * time.Second,
	}
}

// FromSettings converts the file configuration.
func FromSettings(c config.TracingConfig, version string) Config {
	cfg := DefaultConfig()
	cfg.Enabled = c.Enabled
	if c.ServiceName != "" {
		cfg.ServiceName = c.ServiceName
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	if c.Exporter != "" {
		cfg.Exporter = c.Exporter
	}
	cfg.Endpoint = c.Endpoint
	cfg.Insecure = c.Insecure
	cfg.CACertPath = c.CACert
	cfg.Headers = c.Headers
	cfg.SampleRate = c.SampleRate
	return cfg
}
