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

package errors_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	folioerrors "github.com/tombee/folio/pkg/errors"
)

type retryableErr struct{ retry bool }

func (e retryableErr) Error() string     { return "classified" }
func (e retryableErr) ErrorType() string { return "custom" }
func (e retryableErr) IsRetryable() bool { return e.retry }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want folioerrors.Class
	}{
		{"nil", nil, ""},
		{"transient", &folioerrors.TransientError{Message: "rate limited"}, folioerrors.ClassTransient},
		{"wrapped transient", fmt.Errorf("calling ocr: %w", folioerrors.Transientf("503")), folioerrors.ClassTransient},
		{"permanent", folioerrors.Permanentf("bad page"), folioerrors.ClassPermanent},
		{"routing", &folioerrors.RoutingError{NodeID: "triage", Label: "blurry"}, folioerrors.ClassRouting},
		{"fatal", &folioerrors.FatalEngineError{Message: "missing output"}, folioerrors.ClassFatal},
		{"fatal wins over wrapped transient", &folioerrors.FatalEngineError{Cause: folioerrors.Transientf("x")}, folioerrors.ClassFatal},
		{"deadline", fmt.Errorf("attempt: %w", context.DeadlineExceeded), folioerrors.ClassTransient},
		{"timeout error", &folioerrors.TimeoutError{Operation: "node ocr", Duration: time.Second}, folioerrors.ClassTransient},
		{"classifier retryable", retryableErr{retry: true}, folioerrors.ClassTransient},
		{"classifier not retryable", retryableErr{retry: false}, folioerrors.ClassPermanent},
		{"validation", &folioerrors.ValidationError{Message: "bad"}, folioerrors.ClassPermanent},
		{"plain", errors.New("boom"), folioerrors.ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := folioerrors.Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClass_Predicates(t *testing.T) {
	if !folioerrors.ClassTransient.Retryable() {
		t.Error("transient should be retryable")
	}
	if folioerrors.ClassPermanent.Retryable() {
		t.Error("permanent should not be retryable")
	}
	if !folioerrors.ClassPermanent.Recoverable() {
		t.Error("permanent should be recoverable via fallback")
	}
	if folioerrors.ClassRouting.Recoverable() || folioerrors.ClassFatal.Recoverable() {
		t.Error("routing and fatal errors must never be recoverable")
	}
}

func TestNodeErrors_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "transient with node and cause",
			err:     &folioerrors.TransientError{NodeID: "ocr", Message: "upstream busy", Cause: errors.New("503")},
			wantMsg: "transient error in node ocr: upstream busy: 503",
		},
		{
			name:    "permanent cause only",
			err:     folioerrors.Permanent(errors.New("not a pdf")),
			wantMsg: "permanent error: not a pdf",
		},
		{
			name:    "routing with label",
			err:     &folioerrors.RoutingError{NodeID: "triage", Label: "blurry", Message: "label not in route table"},
			wantMsg: `routing error in node triage: label not in route table (label "blurry")`,
		},
		{
			name:    "fatal",
			err:     &folioerrors.FatalEngineError{NodeID: "merge", Message: "unresolvable reference nodes.ocr"},
			wantMsg: "fatal engine error in node merge: unresolvable reference nodes.ocr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestTransientAndPermanent_Nil(t *testing.T) {
	if folioerrors.Transient(nil) != nil {
		t.Error("Transient(nil) should be nil")
	}
	if folioerrors.Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestWrap_PreservesClass(t *testing.T) {
	base := folioerrors.Transientf("connection reset")
	wrapped := folioerrors.Wrapf(base, "node %s", "fetch")

	if wrapped.Error() != "node fetch: transient error: connection reset" {
		t.Errorf("unexpected message: %s", wrapped.Error())
	}
	if folioerrors.Classify(wrapped) != folioerrors.ClassTransient {
		t.Error("wrapping should preserve the transient class")
	}
	if folioerrors.Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}

	var te *folioerrors.TransientError
	if !folioerrors.As(wrapped, &te) {
		t.Fatal("As should find the TransientError")
	}
}

func TestConfigError_Unwrap(t *testing.T) {
	cause := errors.New("file not found")
	err := &folioerrors.ConfigError{Key: "store.path", Reason: "cannot open", Cause: cause}

	if err.Error() != "config error at store.path: cannot open" {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("ConfigError should unwrap to its cause")
	}
}
