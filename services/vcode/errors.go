package vcode

import "errors"

// Precondition failures are expected outcomes and are returned as typed
// sentinel errors, never panicked. Chain-integrity failures are not errors at
// all: VerifySession reports them as data for human review.
var (
	// ErrNotFound indicates the session id does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrForbidden indicates the caller is not the session host on a
	// host-only operation.
	ErrForbidden = errors.New("caller is not the session host")

	// ErrInvalidState indicates the session's current status does not permit
	// the attempted operation.
	ErrInvalidState = errors.New("operation not permitted in current session state")

	// ErrDuplicateParticipant indicates the user already joined the session.
	ErrDuplicateParticipant = errors.New("participant already added to session")

	// ErrNotParticipant indicates the user is not on the session's
	// participant list.
	ErrNotParticipant = errors.New("user is not a session participant")

	// ErrAlreadySigned indicates the participant's signature hash is already
	// set. Signatures are immutable once recorded.
	ErrAlreadySigned = errors.New("participant already signed session")
)
