package httpclient

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/time/rate"

	"github.com/tombee/folio/pkg/errors"
)

// loggingTransport wraps an http.RoundTripper with:
// - Request/response logging with sanitized URLs
// - User-Agent header injection
// - Trace context propagation
// - Duration tracking
type loggingTransport struct {
	base      http.RoundTripper
	userAgent string
	logger    *slog.Logger
}

func newLoggingTransport(base http.RoundTripper, userAgent string, logger *slog.Logger) *loggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &loggingTransport{
		base:      base,
		userAgent: userAgent,
		logger:    logger,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	// RoundTrippers must not modify the caller's request
	req = req.Clone(req.Context())
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start).Milliseconds()

	logURL := sanitizeURL(req.URL)
	if err != nil {
		t.logger.Warn("http request failed",
			"method", req.Method,
			"url", logURL,
			"duration_ms", duration,
			"error", err.Error(),
		)
		return nil, err
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}
	t.logger.Log(req.Context(), level, "http request",
		"method", req.Method,
		"url", logURL,
		"status", resp.StatusCode,
		"duration_ms", duration,
	)
	return resp, nil
}

// rateLimitTransport waits for a limiter token before each request. A
// context that ends first fails the request with the context error.
type rateLimitTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func newRateLimitTransport(base http.RoundTripper, limiter *rate.Limiter) *rateLimitTransport {
	return &rateLimitTransport{base: base, limiter: limiter}
}

// RoundTrip implements http.RoundTripper.
func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, &errors.TransientError{
			Message: fmt.Sprintf("rate limit wait for %s", req.URL.Host),
			Cause:   err,
		}
	}
	return t.base.RoundTrip(req)
}

// hostTransport rejects requests to hosts outside the allowlist.
type hostTransport struct {
	base    http.RoundTripper
	allowed []string
}

func newHostTransport(base http.RoundTripper, allowed []string) *hostTransport {
	lower := make([]string, len(allowed))
	for i, h := range allowed {
		lower[i] = strings.ToLower(h)
	}
	return &hostTransport{base: base, allowed: lower}
}

// RoundTrip implements http.RoundTripper.
func (t *hostTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	host := strings.ToLower(req.URL.Hostname())
	if !hostAllowed(host, t.allowed) {
		return nil, &errors.PermanentError{
			Message: fmt.Sprintf("host %q is not in the allowed hosts list", host),
		}
	}
	return t.base.RoundTrip(req)
}

func hostAllowed(host string, allowed []string) bool {
	for _, a := range allowed {
		if strings.HasPrefix(a, ".") {
			if strings.HasSuffix(host, a) || host == a[1:] {
				return true
			}
			continue
		}
		if host == a {
			return true
		}
	}
	return false
}
