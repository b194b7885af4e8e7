// Package httpclient provides the HTTP client factory used by integration
// handlers, with consistent timeout, rate limiting and observability.
//
// The package creates HTTP clients with defaults including:
//   - Request logging with sanitized URLs (sensitive parameters redacted)
//   - User-Agent header injection
//   - W3C trace context propagation from the request context
//   - A shared token-bucket rate limit across all requests of a client
//   - An optional host allowlist
//   - TLS 1.2 minimum (TLS 1.3 preferred)
//
// The client does not retry. A failed request surfaces as an error to the
// handler, which classifies it; retrying is the engine's decision, made per
// node from its retry policy and the handler's idempotency.
//
// # Usage
//
//	cfg := httpclient.DefaultConfig()
//	cfg.RateLimit = 5
//	client, err := httpclient.New(cfg)
//	if err != nil {
//	    return err
//	}
//	resp, err := client.Do(req)
//
// # Classification
//
// ClassifyStatus maps a response status to a transient or permanent error,
// so handlers report failures in terms the retry manager understands.
package httpclient
