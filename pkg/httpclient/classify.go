package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/tombee/folio/pkg/errors"
)

// ClassifyStatus returns nil for 2xx and 3xx responses. Request timeouts,
// throttling and server errors are transient; other client errors are
// permanent, since repeating the same request cannot fix them.
func ClassifyStatus(method, url string, status int) error {
	if status < 400 {
		return nil
	}
	msg := fmt.Sprintf("%s %s returned %d %s", method, url, status, http.StatusText(status))
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return &errors.TransientError{Message: msg}
	default:
		return &errors.PermanentError{Message: msg}
	}
}

// ClassifyError types a client error. Errors already carrying a class keep
// it; network failures and timeouts are transient; cancellation is returned
// unchanged so the engine sees the caller's own context error.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	var transient *errors.TransientError
	var permanent *errors.PermanentError
	if errors.As(err, &transient) || errors.As(err, &permanent) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return &errors.TransientError{Message: "request failed", Cause: err}
	}
	return &errors.PermanentError{Message: "request failed", Cause: err}
}
