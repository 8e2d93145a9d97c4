package vcode

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists sessions, their chains, and proofs. Implementations must
// apply a Change atomically: a session advertised as in-progress with no
// matching start entry is an integrity violation, so the session update and
// its chain append either both land or neither does.
//
// The service serializes chain-mutating calls per session; Store
// implementations are not required to provide their own per-session ordering
// beyond that atomicity.
type Store interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	ListUserSessions(ctx context.Context, userID string) ([]Session, error)
	ListChain(ctx context.Context, id uuid.UUID) ([]ChainEntry, error)
	Apply(ctx context.Context, id uuid.UUID, change Change) error
	GetProof(ctx context.Context, id uuid.UUID) (*Proof, error)
	Stats(ctx context.Context) (Stats, error)
}

// Change bundles the mutations of a single lifecycle operation. Nil fields
// are left untouched.
type Change struct {
	Status    *Status
	StartTime *time.Time
	EndTime   *time.Time
	UpdatedAt time.Time

	RecordingURL      *string
	RecordingDuration *int
	ThumbnailURL      *string
	TranscriptURL     *string

	Interpreter *InterpreterDetails

	// AddParticipant appends a new participant row.
	AddParticipant *Participant

	// UpdateParticipant patches the participant with the matching UserID.
	UpdateParticipant *ParticipantPatch

	// Entry appends to the verification chain.
	Entry *ChainEntry

	// Proof stores the issued certificate. At most one proof exists per
	// session.
	Proof *Proof
}

// ParticipantPatch updates mutable participant fields, keyed by UserID.
type ParticipantPatch struct {
	UserID        string
	LeftAt        *time.Time
	Verified      *bool
	SignatureHash *string
}
