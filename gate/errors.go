package gate

import (
	"errors"
	"fmt"
)

var (
	// ErrRefreshRejected is returned by a Refresher when the refresh token
	// is invalid, expired or revoked. The session must be re-established by
	// logging in again.
	ErrRefreshRejected = errors.New("refresh token rejected")
	// ErrSuperseded is returned for a navigation that was replaced by a
	// newer one before its decision was ready.
	ErrSuperseded = errors.New("navigation superseded")
)

// CollaboratorError wraps a refresh failure that is not a rejection, such as
// a network error or a 5xx answer. It must reach an error boundary instead
// of being turned into a redirect.
type CollaboratorError struct {
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("refresh collaborator failed: %v", e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}
