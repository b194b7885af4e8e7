package httpclient

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/tombee/folio/pkg/errors"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   errors.Class
	}{
		{200, ""},
		{304, ""},
		{400, errors.ClassPermanent},
		{404, errors.ClassPermanent},
		{408, errors.ClassTransient},
		{429, errors.ClassTransient},
		{500, errors.ClassTransient},
		{503, errors.ClassTransient},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := ClassifyStatus("POST", "https://ocr.example.com/v1/pages", tt.status)
			if got := errors.Classify(err); got != tt.want {
				t.Errorf("ClassifyStatus(%d) class = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	if ClassifyError(nil) != nil {
		t.Error("nil should stay nil")
	}

	netErr := &net.OpError{Op: "dial", Net: "tcp", Err: fmt.Errorf("connection refused")}
	if got := errors.Classify(ClassifyError(netErr)); got != errors.ClassTransient {
		t.Errorf("network error class = %q, want transient", got)
	}

	if got := errors.Classify(ClassifyError(fmt.Errorf("unsupported protocol scheme"))); got != errors.ClassPermanent {
		t.Errorf("plain error class = %q, want permanent", got)
	}

	if err := ClassifyError(context.Canceled); err != context.Canceled {
		t.Errorf("cancellation should pass through, got %v", err)
	}

	typed := errors.Permanentf("bad request")
	if ClassifyError(typed) != typed {
		t.Error("typed errors keep their class")
	}
}
