package pipeline

import (
	"errors"
	"fmt"

	"pattern-analysis-service/internal/sessionclient"
)

// StageError reports the step that failed. Stage names the state that step
// would have produced; intake validation and the duplicate check report
// StageReceived.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// UnexpectedEventError is a well-formed signal of a type this pipeline does
// not handle.
type UnexpectedEventError struct {
	EventType string
}

func (e *UnexpectedEventError) Error() string {
	return fmt.Sprintf("unexpected event type %q", e.EventType)
}

// InvalidSignalError is a signal that cannot be processed as sent.
type InvalidSignalError struct {
	Reason string
	Err    error
}

func (e *InvalidSignalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid completion signal: %s: %v", e.Reason, e.Err)
	}
	return "invalid completion signal: " + e.Reason
}

func (e *InvalidSignalError) Unwrap() error { return e.Err }

// Disposition is what the consumer does with a message whose run failed.
type Disposition int

const (
	// Retry redelivers the message after a delay.
	Retry Disposition = iota
	// Drop acknowledges the message and forgets it.
	Drop
	// Park moves the message aside for manual inspection.
	Park
)

func (d Disposition) String() string {
	switch d {
	case Drop:
		return "drop"
	case Park:
		return "park"
	default:
		return "retry"
	}
}

// Classify maps a run error to a disposition. Anything not known to be
// permanent is retried.
func Classify(err error) Disposition {
	var (
		notFound   *sessionclient.NotFoundError
		unexpected *UnexpectedEventError
		mapping    *sessionclient.MappingError
		invalid    *InvalidSignalError
	)

	switch {
	case err == nil:
		return Drop
	case errors.As(err, &notFound), errors.As(err, &unexpected):
		return Drop
	case errors.As(err, &mapping), errors.As(err, &invalid):
		return Park
	default:
		return Retry
	}
}
