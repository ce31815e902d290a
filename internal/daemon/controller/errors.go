// internal/daemon/controller/errors.go
package controller

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple checks.
var (
	// ErrEmptySubmissionHash is returned when a submission succeeded
	// without a transaction or batch hash.
	ErrEmptySubmissionHash = errors.New("submission returned no transaction hash")
	// ErrAlreadySubmitted is returned when cancelling a group that has
	// transactions on chain.
	ErrAlreadySubmitted = errors.New("dispatch group already submitted")
	// ErrNoActions is returned when submitting an empty group.
	ErrNoActions = errors.New("no actions to dispatch")
	// ErrNoSigner is returned for external-signer actions without a signer.
	ErrNoSigner = errors.New("no external signer configured")
)

// SubmissionError is returned when an action could not be submitted.
// Its message is the alert shown to the user.
type SubmissionError struct {
	DispatchID string
	ActionID   string
	Err        error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("failed to submit action %s of dispatch %s: %v", e.ActionID, e.DispatchID, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}
