package dispatch

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-ingest/core"
)

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }

func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks an error so the dispatcher records the event as failed
// without consuming the retry budget. Consumers return it for payloads
// that no amount of retrying can fix.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal or carries an error
// category that indicates a permanently malformed request.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var marked *fatalError
	if errors.As(err, &marked) {
		return true
	}
	var rich *goerrors.Error
	if errors.As(err, &rich) {
		switch rich.Category {
		case goerrors.CategoryBadInput, goerrors.CategoryValidation, goerrors.CategoryNotFound:
			return true
		}
	}
	return false
}

// ClassifyError maps a consumer error to a delivery outcome. Deadline
// expiry and every unmarked error stay retryable so a slow or flaky
// consumer gets another attempt.
func ClassifyError(err error) core.Outcome {
	if err == nil {
		return core.Outcome{Kind: core.OutcomeSuccess}
	}
	if IsFatal(err) {
		return core.Outcome{Kind: core.OutcomeFatalFailure, Detail: err.Error()}
	}
	return core.Outcome{Kind: core.OutcomeRetryableFailure, Detail: err.Error()}
}
