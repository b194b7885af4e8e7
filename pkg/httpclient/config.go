package httpclient

import (
	"fmt"
	"log/slog"
	"time"
)

// Config configures an HTTP client.
type Config struct {
	// Timeout bounds a whole request including reading the body.
	// Default: 30s. Must be > 0.
	Timeout time.Duration

	// UserAgent is the User-Agent header value.
	// Required. Must be non-empty.
	UserAgent string

	// RateLimit caps requests per second across the client. Zero disables
	// the limit.
	RateLimit float64

	// Burst is the number of requests allowed above the rate in a spike.
	// Default: 1 when RateLimit is set.
	Burst int

	// AllowedHosts restricts request hosts. Entries match the host exactly
	// or, with a leading ".", any subdomain. Empty allows every host.
	AllowedHosts []string

	// Logger receives request logs. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:   30 * time.Second,
		UserAgent: "folio/1.0",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %v", c.Timeout)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must be >= 0, got %v", c.RateLimit)
	}
	if c.Burst < 0 {
		return fmt.Errorf("burst must be >= 0, got %d", c.Burst)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent is required and must be non-empty")
	}
	for _, h := range c.AllowedHosts {
		if h == "" || h == "." {
			return fmt.Errorf("allowed_hosts contains an empty entry")
		}
	}
	return nil
}
