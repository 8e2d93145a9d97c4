package vcode

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks where a session sits in its lifecycle. Transitions are
// monotonic: a session never moves back to an earlier status.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Role classifies a participant within a session.
type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
	RoleInterpreter Role = "interpreter"
	RoleObserver    Role = "observer"
)

// Action identifies the kind of privileged operation a chain entry records.
type Action string

const (
	ActionStart  Action = "start"
	ActionJoin   Action = "join"
	ActionLeave  Action = "leave"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionEnd    Action = "end"
	ActionSign   Action = "sign"
	ActionCancel Action = "cancel"
)

// Session is a scheduled or in-progress meeting recording owned by its host.
type Session struct {
	ID                      uuid.UUID           `json:"id" db:"id"`
	Title                   string              `json:"title" db:"title"`
	Description             string              `json:"description" db:"description"`
	HostID                  string              `json:"host_id" db:"host_id"`
	Participants            []Participant       `json:"participants"`
	StartTime               *time.Time          `json:"start_time" db:"start_time"`
	EndTime                 *time.Time          `json:"end_time" db:"end_time"`
	Status                  Status              `json:"status" db:"status"`
	RecordingURL            string              `json:"recording_url,omitempty" db:"recording_url"`
	RecordingDuration       int                 `json:"recording_duration,omitempty" db:"recording_duration"`
	ThumbnailURL            string              `json:"thumbnail_url,omitempty" db:"thumbnail_url"`
	VerificationHash        string              `json:"verification_hash" db:"verification_hash"`
	TranscriptURL           string              `json:"transcript_url,omitempty" db:"transcript_url"`
	SignLanguageInterpreter bool                `json:"sign_language_interpreter" db:"sign_language_interpreter"`
	InterpreterDetails      *InterpreterDetails `json:"interpreter_details,omitempty"`
	Metadata                Metadata            `json:"metadata"`
	CreatedAt               time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time           `json:"updated_at" db:"updated_at"`
}

// Participant is a person associated with a session.
type Participant struct {
	UserID        string     `json:"user_id" db:"user_id"`
	Name          string     `json:"name" db:"name"`
	Role          Role       `json:"role" db:"role"`
	JoinedAt      *time.Time `json:"joined_at" db:"joined_at"`
	LeftAt        *time.Time `json:"left_at" db:"left_at"`
	Verified      bool       `json:"verified" db:"verified"`
	SignatureHash string     `json:"signature_hash,omitempty" db:"signature_hash"`
}

// InterpreterDetails describes the sign-language interpreter attached to a session.
type InterpreterDetails struct {
	InterpreterID  string   `json:"interpreter_id"`
	Name           string   `json:"name"`
	Certifications []string `json:"certifications"`
}

// Metadata carries the evidentiary context a session was recorded under.
type Metadata struct {
	MeetingType   string   `json:"meeting_type"`
	Confidential  bool     `json:"confidential"`
	RetentionDays int      `json:"retention_days"`
	AccessLevel   string   `json:"access_level"`
	Tags          []string `json:"tags"`
	Location      string   `json:"location,omitempty"`
	Organization  string   `json:"organization,omitempty"`
	Purpose       string   `json:"purpose"`
}

// ChainEntry is one append-only, hash-linked record of an action taken against
// a session. Every field that feeds the entry hash is stored, so the hash can
// be re-derived during verification.
type ChainEntry struct {
	Seq          int       `json:"seq" db:"seq"`
	Timestamp    time.Time `json:"timestamp" db:"ts"`
	Action       Action    `json:"action" db:"action"`
	UserID       string    `json:"user_id" db:"user_id"`
	Hash         string    `json:"hash" db:"hash"`
	PreviousHash string    `json:"previous_hash" db:"previous_hash"`
}

// Verification reports the outcome of a chain-integrity check. It is
// diagnostic data: a broken chain is reported, never repaired.
type Verification struct {
	SessionID        uuid.UUID    `json:"session_id"`
	VerificationHash string       `json:"verification_hash"`
	Timestamp        time.Time    `json:"timestamp"`
	Verified         bool         `json:"verified"`
	Chain            []ChainEntry `json:"chain"`
}

// Proof is the certificate artifact issued once when a session completes.
type Proof struct {
	SessionID      uuid.UUID `json:"session_id" db:"session_id"`
	ProofURL       string    `json:"proof_url" db:"proof_url"`
	QRCode         string    `json:"qr_code" db:"qr_code"`
	CertificateURL string    `json:"certificate_url" db:"certificate_url"`
	ChainHead      string    `json:"chain_head" db:"chain_head"`
	Attestation    string    `json:"attestation,omitempty" db:"attestation"`
	AttestationKey string    `json:"attestation_key,omitempty" db:"attestation_key"`
	IssuedAt       time.Time `json:"issued_at" db:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at" db:"expires_at"`
}

// Stats aggregates counts across all stored sessions.
type Stats struct {
	TotalSessions            int     `json:"total_sessions"`
	ActiveSessions           int     `json:"active_sessions"`
	CompletedSessions        int     `json:"completed_sessions"`
	ScheduledSessions        int     `json:"scheduled_sessions"`
	CancelledSessions        int     `json:"cancelled_sessions"`
	TotalParticipants        int     `json:"total_participants"`
	SessionsWithInterpreters int     `json:"sessions_with_interpreters"`
	TotalRecordingHours      float64 `json:"total_recording_hours"`
}

// statusRank orders lifecycle states for the monotonic-transition check.
// Cancelled ranks alongside completed: both are terminal.
func statusRank(s Status) int {
	switch s {
	case StatusScheduled:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted, StatusCancelled:
		return 2
	default:
		return -1
	}
}
