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

// Package config loads folio's configuration from defaults, a YAML file,
// a .env file and FOLIO_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	folioerrors "github.com/tombee/folio/pkg/errors"
)

// Config represents the complete folio configuration.
type Config struct {
	// DataDir holds run stores and other local state.
	// Environment: FOLIO_DATA_DIR
	DataDir string `yaml:"data_dir"`

	Log       LogConfig       `yaml:"log"`
	Engine    EngineConfig    `yaml:"engine"`
	Store     StoreConfig     `yaml:"store"`
	Workflows WorkflowsConfig `yaml:"workflows"`
	Server    ServerConfig    `yaml:"server"`
	Inbox     InboxConfig     `yaml:"inbox"`
	Retention RetentionConfig `yaml:"retention"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Handlers  HandlersConfig  `yaml:"handlers"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error).
	// Environment: FOLIO_LOG_LEVEL, LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: text
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	AddSource bool `yaml:"add_source"`
}

// EngineConfig configures the execution engine.
type EngineConfig struct {
	// ParallelConcurrency caps concurrent sub-runs of a parallel node that
	// declares no max_concurrency.
	// Default: 4
	ParallelConcurrency int `yaml:"parallel_concurrency"`

	// NodeTimeout bounds each handler attempt of nodes without a timeout.
	// Zero means no limit.
	// Environment: FOLIO_NODE_TIMEOUT
	NodeTimeout time.Duration `yaml:"node_timeout,omitempty"`

	// ShutdownTimeout is how long shutdown waits for runs to suspend.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// ResumeOnStart resumes interrupted runs when the server starts.
	// Default: true
	ResumeOnStart bool `yaml:"resume_on_start"`
}

// StoreConfig selects the run store.
type StoreConfig struct {
	// Backend is one of memory, file, sqlite or badger.
	// Environment: FOLIO_STORE
	// Default: sqlite
	Backend string `yaml:"backend"`

	// Path is the store's file or directory. Relative paths are resolved
	// against DataDir; empty uses a per-backend default.
	// Environment: FOLIO_STORE_PATH
	Path string `yaml:"path,omitempty"`

	// WAL enables write-ahead logging for the sqlite backend.
	// Default: true
	WAL bool `yaml:"wal"`
}

// WorkflowsConfig locates workflow definition files.
type WorkflowsConfig struct {
	// Dir is searched for workflow files.
	// Environment: FOLIO_WORKFLOWS_DIR
	// Default: ./workflows
	Dir string `yaml:"dir"`

	// Pattern is a doublestar glob relative to Dir.
	// Default: **/*.{yaml,yml}
	Pattern string `yaml:"pattern"`

	// Watch registers new workflow versions as files change.
	Watch bool `yaml:"watch"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr is the listen address.
	// Environment: FOLIO_ADDR
	// Default: 127.0.0.1:9876
	Addr string `yaml:"addr"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 5s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes limits trigger payload size.
	// Default: 10 MiB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// InboxConfig configures the drop-folder trigger.
type InboxConfig struct {
	// Enabled turns the drop folder on.
	// Environment: FOLIO_INBOX_DIR (setting it also enables the inbox)
	Enabled bool `yaml:"enabled"`

	// Dir is the watched directory.
	Dir string `yaml:"dir"`

	// Workflow is the workflow started for each new document ("id" or "id@version").
	Workflow string `yaml:"workflow"`

	// Include and Exclude are doublestar patterns matched against paths
	// relative to Dir.
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`

	// Recursive also watches subdirectories, including ones created later.
	Recursive bool `yaml:"recursive"`

	// Debounce waits for writes to settle before a document is picked up.
	// Default: 500ms
	Debounce time.Duration `yaml:"debounce"`

	// RateLimit caps run starts per second; Burst allows short spikes.
	// Default: 5/s, burst 10
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// RetentionConfig configures the sweep of finished runs.
type RetentionConfig struct {
	// MaxAge is how long terminal runs are kept. Zero disables pruning.
	// Environment: FOLIO_RETENTION
	// Default: 720h
	MaxAge time.Duration `yaml:"max_age"`

	// Interval is how often serve prunes.
	// Default: 24h
	Interval time.Duration `yaml:"interval"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	// Enabled controls whether spans and metrics are recorded.
	// Environment: FOLIO_TRACING
	Enabled bool `yaml:"enabled"`

	// ServiceName identifies this service in traces.
	// Default: folio
	ServiceName string `yaml:"service_name"`

	// Exporter is one of stdout, otlp (gRPC) or otlp-http.
	// Default: stdout
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP receiver address.
	// Environment: OTEL_EXPORTER_OTLP_ENDPOINT
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS for OTLP exporters.
	Insecure bool `yaml:"insecure"`

	// CACert verifies the OTLP receiver with a custom CA bundle.
	CACert string `yaml:"ca_cert,omitempty"`

	// Headers are sent with every export, typically for authentication.
	Headers map[string]string `yaml:"headers,omitempty"`

	// SampleRate is the fraction of runs traced (0.0 - 1.0).
	// Default: 1.0
	SampleRate float64 `yaml:"sample_rate"`
}

// HandlersConfig configures the built-in handlers.
type HandlersConfig struct {
	HTTP  HTTPHandlerConfig `yaml:"http"`
	Files FilesConfig       `yaml:"files"`
	Sink  SinkConfig        `yaml:"sink"`
}

// HTTPHandlerConfig configures the http integration handler.
type HTTPHandlerConfig struct {
	// Timeout bounds a single request.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// RateLimit caps requests per second across all runs; Burst allows spikes.
	// Default: 10/s, burst 20
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`

	// AllowedHosts restricts target hosts. Empty allows any host.
	AllowedHosts []string `yaml:"allowed_hosts,omitempty"`
}

// FilesConfig configures the file reader input handler.
type FilesConfig struct {
	// Root confines reads to a directory. Empty allows any path.
	Root string `yaml:"root,omitempty"`
}

// SinkConfig configures the jsonl output handler.
type SinkConfig struct {
	// Dir receives one JSONL file per workflow.
	// Default: <data_dir>/output
	Dir string `yaml:"dir,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Engine: EngineConfig{
			ParallelConcurrency: 4,
			ShutdownTimeout:     30 * time.Second,
			ResumeOnStart:       true,
		},
		Store: StoreConfig{
			Backend: "sqlite",
			WAL:     true,
		},
		Workflows: WorkflowsConfig{
			Dir:     "./workflows",
			Pattern: "**/*.{yaml,yml}",
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:9876",
			ShutdownTimeout: 5 * time.Second,
			MaxBodyBytes:    10 << 20,
		},
		Inbox: InboxConfig{
			Debounce:  500 * time.Millisecond,
			RateLimit: 5,
			Burst:     10,
		},
		Retention: RetentionConfig{
			MaxAge:   30 * 24 * time.Hour,
			Interval: 24 * time.Hour,
		},
		Tracing: TracingConfig{
			ServiceName: "folio",
			Exporter:    "stdout",
			SampleRate:  1.0,
		},
		Handlers: HandlersConfig{
			HTTP: HTTPHandlerConfig{
				Timeout:   30 * time.Second,
				RateLimit: 10,
				Burst:     20,
			},
		},
	}
}

// Load loads configuration from a YAML file (optional), a .env file and
// environment variables. Environment variables take precedence.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &folioerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	// Apply defaults to any zero values (handles minimal configs)
	cfg.applyDefaults()

	if err := LoadEnv(); err != nil {
		return nil, &folioerrors.ConfigError{Key: "env_file", Reason: "failed to load .env", Cause: err}
	}
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &folioerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}
	return cfg, nil
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	d := Default()

	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Engine.ParallelConcurrency == 0 {
		c.Engine.ParallelConcurrency = d.Engine.ParallelConcurrency
	}
	if c.Engine.ShutdownTimeout == 0 {
		c.Engine.ShutdownTimeout = d.Engine.ShutdownTimeout
	}
	if c.Store.Backend == "" {
		c.Store.Backend = d.Store.Backend
	}
	if c.Workflows.Dir == "" {
		c.Workflows.Dir = d.Workflows.Dir
	}
	if c.Workflows.Pattern == "" {
		c.Workflows.Pattern = d.Workflows.Pattern
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = d.Server.MaxBodyBytes
	}
	if c.Inbox.Debounce == 0 {
		c.Inbox.Debounce = d.Inbox.Debounce
	}
	if c.Inbox.RateLimit == 0 {
		c.Inbox.RateLimit = d.Inbox.RateLimit
	}
	if c.Inbox.Burst == 0 {
		c.Inbox.Burst = d.Inbox.Burst
	}
	if c.Retention.Interval == 0 {
		c.Retention.Interval = d.Retention.Interval
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = d.Tracing.ServiceName
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = d.Tracing.Exporter
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = d.Tracing.SampleRate
	}
	if c.Handlers.HTTP.Timeout == 0 {
		c.Handlers.HTTP.Timeout = d.Handlers.HTTP.Timeout
	}
	if c.Handlers.HTTP.RateLimit == 0 {
		c.Handlers.HTTP.RateLimit = d.Handlers.HTTP.RateLimit
	}
	if c.Handlers.HTTP.Burst == 0 {
		c.Handlers.HTTP.Burst = d.Handlers.HTTP.Burst
	}
	if c.Handlers.Sink.Dir == "" {
		c.Handlers.Sink.Dir = filepath.Join(c.DataDir, "output")
	}
}

func (c *Config) loadFromFile(path string) error {
	// Expand home directory if present
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("FOLIO_DATA_DIR"); val != "" {
		c.DataDir = val
	}

	// Log configuration
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("FOLIO_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = isTrue(val)
	}
	if isTrue(os.Getenv("FOLIO_DEBUG")) {
		c.Log.Level = "debug"
	}

	if val := os.Getenv("FOLIO_NODE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Engine.NodeTimeout = d
		}
	}
	if val := os.Getenv("FOLIO_PARALLEL_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Engine.ParallelConcurrency = n
		}
	}

	if val := os.Getenv("FOLIO_STORE"); val != "" {
		c.Store.Backend = strings.ToLower(val)
	}
	if val := os.Getenv("FOLIO_STORE_PATH"); val != "" {
		c.Store.Path = val
	}

	if val := os.Getenv("FOLIO_WORKFLOWS_DIR"); val != "" {
		c.Workflows.Dir = val
	}
	if val := os.Getenv("FOLIO_ADDR"); val != "" {
		c.Server.Addr = val
	}

	if val := os.Getenv("FOLIO_INBOX_DIR"); val != "" {
		c.Inbox.Dir = val
		c.Inbox.Enabled = true
	}
	if val := os.Getenv("FOLIO_INBOX_WORKFLOW"); val != "" {
		c.Inbox.Workflow = val
	}

	if val := os.Getenv("FOLIO_RETENTION"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Retention.MaxAge = d
		}
	}

	if val := os.Getenv("FOLIO_TRACING"); val != "" {
		c.Tracing.Enabled = isTrue(val)
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Tracing.Endpoint = val
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if c.Engine.ParallelConcurrency < 1 {
		errs = append(errs, fmt.Sprintf("engine.parallel_concurrency must be at least 1, got %d", c.Engine.ParallelConcurrency))
	}
	if c.Engine.NodeTimeout < 0 {
		errs = append(errs, "engine.node_timeout must not be negative")
	}

	validBackends := map[string]bool{"memory": true, "file": true, "sqlite": true, "badger": true}
	if !validBackends[c.Store.Backend] {
		errs = append(errs, fmt.Sprintf("store.backend must be one of [memory, file, sqlite, badger], got %q", c.Store.Backend))
	}

	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("server.shutdown_timeout must be positive, got %v", c.Server.ShutdownTimeout))
	}

	if c.Inbox.Enabled {
		if c.Inbox.Dir == "" {
			errs = append(errs, "inbox.dir is required when the inbox is enabled")
		}
		if c.Inbox.Workflow == "" {
			errs = append(errs, "inbox.workflow is required when the inbox is enabled")
		}
	}
	if c.Inbox.RateLimit < 0 {
		errs = append(errs, "inbox.rate_limit must not be negative")
	}

	if c.Retention.MaxAge < 0 {
		errs = append(errs, "retention.max_age must not be negative")
	}

	validExporters := map[string]bool{"stdout": true, "otlp": true, "otlp-http": true}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		errs = append(errs, fmt.Sprintf("tracing.exporter must be one of [stdout, otlp, otlp-http], got %q", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %v", c.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func isTrue(val string) bool {
	return val == "1" || strings.ToLower(val) == "true"
}

