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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	folioerrors "github.com/tombee/folio/pkg/errors"
)

// Exit codes for folio commands
const (
	ExitSuccess         = 0
	ExitRunFailed       = 1
	ExitInvalidWorkflow = 2
	ExitInvalidInput    = 3
	ExitRunIncomplete   = 4 // Cancelled, or suspended and resumable
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		if e.Message == "" {
			return e.Cause.Error()
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewRunFailedError creates an error for runs that ended failed
func NewRunFailedError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitRunFailed, Message: msg, Cause: cause}
}

// NewInvalidWorkflowError creates an error for invalid workflow files
func NewInvalidWorkflowError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidWorkflow, Message: msg, Cause: cause}
}

// NewInvalidInputError creates an error for unusable trigger payloads
func NewInvalidInputError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidInput, Message: msg, Cause: cause}
}

// HandleExitError prints err and exits with the code it carries.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	os.Exit(PrintError(os.Stderr, err))
}

// PrintError writes err and any suggestion to w and returns the exit code.
// An ExitError with an empty message has already been reported.
func PrintError(w io.Writer, err error) int {
	code := ExitRunFailed
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
		if exitErr.Message == "" && exitErr.Cause == nil {
			return code
		}
	}

	fmt.Fprintln(w, RenderError(err.Error()))
	printUserVisibleSuggestion(w, err)
	return code
}

// printUserVisibleSuggestion walks the chain for a UserVisibleError or a
// ValidationError and prints its suggestion.
func printUserVisibleSuggestion(w io.Writer, err error) {
	var verr *folioerrors.ValidationError
	if errors.As(err, &verr) && verr.Suggestion != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", verr.Suggestion)
		return
	}

	for err != nil {
		if userErr, ok := err.(folioerrors.UserVisibleError); ok {
			if userErr.IsUserVisible() && userErr.Suggestion() != "" {
				fmt.Fprintf(w, "\nSuggestion: %s\n", userErr.Suggestion())
			}
			return
		}
		err = errors.Unwrap(err)
	}
}
