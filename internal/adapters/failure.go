package adapters

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/googleapi"
)

// FailureKind classifies an adapter failure at the retry boundary.
type FailureKind string

const (
	// FailureTransient covers timeouts, network errors and 5xx-class remote
	// errors. Transient failures are retried by the stage executor.
	FailureTransient FailureKind = "TRANSIENT"
	// FailurePermanent covers malformed input, authentication and
	// authorization errors, and content the service rejects. Permanent
	// failures propagate after a single attempt.
	FailurePermanent FailureKind = "PERMANENT"
)

// Failure is the typed error envelope every adapter returns on error. The
// orchestrator and executor never look past Kind and the wrapped error.
type Failure struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s failure: %v", f.Op, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Transient wraps err as a retryable failure.
func Transient(op string, err error) error {
	return &Failure{Kind: FailureTransient, Op: op, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(op string, err error) error {
	return &Failure{Kind: FailurePermanent, Op: op, Err: err}
}

// IsRetryable reports whether the executor may retry after err. Errors that
// carry no Failure classification are treated as transient: timeouts and
// transport errors usually surface untyped, and retrying them is the
// liveness-preserving default.
func IsRetryable(err error) bool {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind == FailureTransient
	}
	return true
}

// classifyRemote maps a remote call error onto the failure taxonomy using
// googleapi status codes where available.
func classifyRemote(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient(op, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == 429 || gerr.Code == 408 || gerr.Code >= 500 {
			return Transient(op, err)
		}
		return Permanent(op, err)
	}
	return Transient(op, err)
}
