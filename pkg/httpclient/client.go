package httpclient

import (
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// New creates a new HTTP client with the given configuration.
// Transport layers, outermost first:
//   - host allowlist (rejects before any network activity)
//   - rate limiter (waits for a token, honouring the request context)
//   - logging, User-Agent and trace context propagation
//   - pooled base transport with TLS 1.2 minimum
//
// Returns an error if the configuration is invalid.
func New(cfg Config) (*http.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseTransport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			MaxVersion: tls.VersionTLS13,
		},

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,

		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var transport http.RoundTripper = newLoggingTransport(baseTransport, cfg.UserAgent, logger)

	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		transport = newRateLimitTransport(transport, rate.NewLimiter(rate.Limit(cfg.RateLimit), burst))
	}

	if len(cfg.AllowedHosts) > 0 {
		transport = newHostTransport(transport, cfg.AllowedHosts)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}, nil
}
