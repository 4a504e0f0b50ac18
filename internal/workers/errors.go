package workers

import (
	"errors"
	"fmt"
)

// ErrorKind names the failure class of a worker role.
type ErrorKind string

const (
	KindParse       ErrorKind = "ParseError"       // extractor: unintelligible input
	KindComparison  ErrorKind = "ComparisonError"  // analyzer: profile missing required fields
	KindGeneration  ErrorKind = "GenerationError"  // interviewer: could not generate items
	KindAggregation ErrorKind = "AggregationError" // charter: malformed record set
)

// Error is the single error type workers surface to the orchestrator. The
// orchestrator records it verbatim into the job's error_message.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// AsWorkerError unwraps err to a *Error when it is one.
func AsWorkerError(err error) (*Error, bool) {
	var we *Error
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}
