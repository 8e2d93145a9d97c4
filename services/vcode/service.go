package vcode

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultPublicBaseURL = "https://pinksync.app"
	defaultRetentionDays = 365
)

// Service owns the session lifecycle, the per-session hash-linked chain, and
// proof issuance. Chain-mutating operations are serialized per session; reads
// and operations on distinct sessions run in parallel.
type Service struct {
	store      Store
	notifier   Notifier
	signer     AttestationSigner
	documents  DocumentStore
	publicBase string
	now        func() time.Time
	locks      *sessionLocks
}

// Options configures a Service. Store is required; everything else has a
// working default.
type Options struct {
	Store         Store
	Notifier      Notifier
	Signer        AttestationSigner
	Documents     DocumentStore
	PublicBaseURL string
	Now           func() time.Time
}

// New validates options and builds a Service.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	if opts.PublicBaseURL == "" {
		opts.PublicBaseURL = defaultPublicBaseURL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		store:      opts.Store,
		notifier:   opts.Notifier,
		signer:     opts.Signer,
		documents:  opts.Documents,
		publicBase: strings.TrimRight(opts.PublicBaseURL, "/"),
		now:        opts.Now,
		locks:      newSessionLocks(),
	}, nil
}

// Draft holds the caller-supplied fields of a new session. ID, status,
// verification hash, and record timestamps are assigned by the service.
type Draft struct {
	Title                   string              `json:"title"`
	Description             string              `json:"description"`
	HostID                  string              `json:"host_id"`
	StartTime               *time.Time          `json:"start_time"`
	Participants            []Participant       `json:"participants"`
	SignLanguageInterpreter bool                `json:"sign_language_interpreter"`
	InterpreterDetails      *InterpreterDetails `json:"interpreter_details"`
	TranscriptURL           string              `json:"transcript_url"`
	Metadata                Metadata            `json:"metadata"`
}

// ScheduleSession allocates an id, assigns the session-level verification
// hash, and stores the session with an empty chain. Scheduling never appends
// to the chain: the first entry is always the start action.
func (s *Service) ScheduleSession(ctx context.Context, draft Draft) (uuid.UUID, error) {
	if strings.TrimSpace(draft.Title) == "" {
		return uuid.Nil, errors.New("title is required")
	}
	if strings.TrimSpace(draft.HostID) == "" {
		return uuid.Nil, errors.New("host id is required")
	}
	if draft.Metadata.RetentionDays <= 0 {
		draft.Metadata.RetentionDays = defaultRetentionDays
	}

	id := uuid.New()
	now := s.now().UTC()

	session := Session{
		ID:                      id,
		Title:                   draft.Title,
		Description:             draft.Description,
		HostID:                  draft.HostID,
		Participants:            draft.Participants,
		StartTime:               draft.StartTime,
		Status:                  StatusScheduled,
		VerificationHash:        sessionVerificationHash(id, now),
		TranscriptURL:           draft.TranscriptURL,
		SignLanguageInterpreter: draft.SignLanguageInterpreter,
		InterpreterDetails:      draft.InterpreterDetails,
		Metadata:                draft.Metadata,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	if err := s.store.CreateSession(ctx, &session); err != nil {
		return uuid.Nil, err
	}

	metricSessionsScheduled.Inc()
	s.notifier.Notify(draft.HostID, "api", map[string]any{
		"action":    "vcode-session-scheduled",
		"sessionId": id.String(),
		"title":     draft.Title,
	})

	return id, nil
}

// StartSession moves a scheduled session to in-progress and records the first
// chain entry. Host-only.
func (s *Service) StartSession(ctx context.Context, id uuid.UUID, hostID string) error {
	unlock := s.locks.acquire(id)
	defer unlock()

	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if session.HostID != hostID {
		return ErrForbidden
	}
	if session.Status != StatusScheduled {
		return ErrInvalidState
	}

	now := s.now().UTC()
	entry, err := s.nextEntry(ctx, id, ActionStart, hostID, now)
	if err != nil {
		return err
	}

	status := StatusInProgress
	if err := s.store.Apply(ctx, id, Change{
		Status:    &status,
		StartTime: &now,
		UpdatedAt: now,
		Entry:     entry,
	}); err != nil {
		return err
	}

	metricChainEntries.WithLabelValues(string(ActionStart)).Inc()
	metricActiveSessions.Inc()
	s.notifier.Notify("", "api", map[string]any{
		"action":    "vcode-session-started",
		"sessionId": id.String(),
	})

	return nil
}

// AddParticipant records a join. Duplicate user ids are rejected; joining a
// terminal session is rejected.
func (s *Service) AddParticipant(ctx context.Context, id uuid.UUID, participant Participant) error {
	if strings.TrimSpace(participant.UserID) == "" {
		return errors.New("participant user id is required")
	}
	if participant.Role == "" {
		participant.Role = RoleParticipant
	}

	unlock := s.locks.acquire(id)
	defer unlock()

	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if statusRank(session.Status) >= statusRank(StatusCompleted) {
		return ErrInvalidState
	}
	for _, p := range session.Participants {
		if p.UserID == participant.UserID {
			return ErrDuplicateParticipant
		}
	}

	now := s.now().UTC()
	participant.JoinedAt = &now
	participant.LeftAt = nil
	participant.Verified = false
	participant.SignatureHash = ""

	entry, err := s.nextEntry(ctx, id, ActionJoin, participant.UserID, now)
	if err != nil {
		return err
	}

	if err := s.store.Apply(ctx, id, Change{
		UpdatedAt:      now,
		AddParticipant: &participant,
		Entry:          entry,
	}); err != nil {
		return err
	}

	metricChainEntries.WithLabelValues(string(ActionJoin)).Inc()
	return nil
}

// RemoveParticipant records a leave, sets the participant's LeftAt, and
// appends a leave entry. Leaving twice is rejected.
func (s *Service) RemoveParticipant(ctx context.Context, id uuid.UUID, userID string) error {
	unlock := s.locks.acquire(id)
	defer unlock()

	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if statusRank(session.Status) >= statusRank(StatusCompleted) {
		return ErrInvalidState
	}

	var found *Participant
	for i := range session.Participants {
		if session.Participants[i].UserID == userID {
			found = &session.Participants[i]
			break
		}
	}
	if found == nil {
		return ErrNotParticipant
	}
	if found.LeftAt != nil {
		return ErrInvalidState
	}

	now := s.now().UTC()
	entry, err := s.nextEntry(ctx, id, ActionLeave, userID, now)
	if err != nil {
		return err
	}

	if err := s.store.Apply(ctx, id, Change{
		UpdatedAt:         now,
		UpdateParticipant: &ParticipantPatch{UserID: userID, LeftAt: &now},
		Entry:             entry,
	}); err != nil {
		return err
	}

	metricChainEntries.WithLabelValues(string(ActionLeave)).Inc()
	return nil
}

// AssignInterpreter marks the session as interpreter-supported and attaches
// the interpreter details. It intentionally does not append a chain entry:
// interpreter assignment is session metadata, not a lifecycle event, and
// keeping it off the chain keeps chain lengths comparable with records that
// predate interpreter tracking.
func (s *Service) AssignInterpreter(ctx context.Context, id uuid.UUID, details InterpreterDetails) error {
	unlock := s.locks.acquire(id)
	defer unlock()

	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if statusRank(session.Status) >= statusRank(StatusCompleted) {
		return ErrInvalidState
	}

	now := s.now().UTC()
	return s.store.Apply(ctx, id, Change{
		UpdatedAt:   now,
		Interpreter: &details,
	})
}

// SignSession records a participant's acknowledgment: an immutable signature
// hash, the verified flag, and a sign chain entry. The signature hash equals
// the sign entry's hash, tying the acknowledgment to its position in the log.
func (s *Service) SignSession(ctx context.Context, id uuid.UUID, userID string) error {
	unlock := s.locks.acquire(id)
	defer unlock()

	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return err
	}

	if statusRank(session.Status) >= statusRank(StatusCompleted) {
		return ErrInvalidState
	}

	var found *Participant
	for i := range session.Participants {
		if session.Participants[i].UserID == userID {
			found = &session.Participants[i]
			break
		}
	}
	if found == nil {
		return ErrNotParticipant
	}
	if found.SignatureHash != "" {
		return ErrAlreadySigned
	}

	now := s.now().UTC()
	entry, err := s.nextEntry(ctx, id, ActionSign, userID, now)
	if err != nil {
		return err
	}

	verified := true
	if err := s.store.Apply(ctx, id, Change{
		UpdatedAt: now,
		UpdateParticipant: &ParticipantPatch{
			UserID:        userID,
			Verified:      &verified,
			SignatureHash: &entry.Hash,
		},
		Entry: entry,
	}); err != nil {
		return err
	}

	metricChainEntries.WithLabelValues(string(ActionSign)).Inc()
	return nil
}

// CancelSession moves a scheduled or in-progress session to the cancelled
// terminal state and records a cancel entry. Host-only. EndTime stays unset:
// it is reserved for sessions that completed.
func (s *Service) CancelSession(ctx context.Context, id uuid.UUID, hostID string) error {
	unlock := s.locks.acquire(id)
	defer unlock()

	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if session.HostID != hostID {
		return ErrForbidden
	}
	if session.Status != StatusScheduled && session.Status != StatusInProgress {
		return ErrInvalidState
	}

	now := s.now().UTC()
	entry, err := s.nextEntry(ctx, id, ActionCancel, hostID, now)
	if err != nil {
		return err
	}

	wasActive := session.Status == StatusInProgress
	status := StatusCancelled
	if err := s.store.Apply(ctx, id, Change{
		Status:    &status,
		UpdatedAt: now,
		Entry:     entry,
	}); err != nil {
		return err
	}

	metricChainEntries.WithLabelValues(string(ActionCancel)).Inc()
	if wasActive {
		metricActiveSessions.Dec()
	}
	s.notifier.Notify(hostID, "api", map[string]any{
		"action":    "vcode-session-cancelled",
		"sessionId": id.String(),
	})

	return nil
}

// EndSession completes an in-progress session, appends the end entry, and
// issues the session's proof in the same transaction. Host-only; a second
// call fails with ErrInvalidState and the original proof stays retrievable.
func (s *Service) EndSession(ctx context.Context, id uuid.UUID, hostID string) (*Proof, error) {
	unlock := s.locks.acquire(id)
	defer unlock()

	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.HostID != hostID {
		return nil, ErrForbidden
	}
	if session.Status != StatusInProgress {
		return nil, ErrInvalidState
	}

	now := s.now().UTC()
	entry, err := s.nextEntry(ctx, id, ActionEnd, hostID, now)
	if err != nil {
		return nil, err
	}

	chain, err := s.store.ListChain(ctx, id)
	if err != nil {
		return nil, err
	}
	chain = append(chain, *entry)

	proof, err := s.buildProof(ctx, session, chain, entry.Hash, now)
	if err != nil {
		return nil, err
	}

	status := StatusCompleted
	if err := s.store.Apply(ctx, id, Change{
		Status:    &status,
		EndTime:   &now,
		UpdatedAt: now,
		Entry:     entry,
		Proof:     proof,
	}); err != nil {
		return nil, err
	}

	metricChainEntries.WithLabelValues(string(ActionEnd)).Inc()
	metricProofsIssued.Inc()
	metricActiveSessions.Dec()
	s.notifier.Notify("", "api", map[string]any{
		"action":    "vcode-session-ended",
		"sessionId": id.String(),
	})

	return proof, nil
}

// AttachRecording attaches the recording reference to an in-progress or
// completed session. Host-only.
func (s *Service) AttachRecording(ctx context.Context, id uuid.UUID, hostID string, rec Recording) error {
	if strings.TrimSpace(rec.URL) == "" {
		return errors.New("recording url is required")
	}

	unlock := s.locks.acquire(id)
	defer unlock()

	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if session.HostID != hostID {
		return ErrForbidden
	}
	if session.Status != StatusInProgress && session.Status != StatusCompleted {
		return ErrInvalidState
	}

	now := s.now().UTC()
	change := Change{
		UpdatedAt:         now,
		RecordingURL:      &rec.URL,
		RecordingDuration: &rec.DurationSeconds,
	}
	if rec.ThumbnailURL != "" {
		change.ThumbnailURL = &rec.ThumbnailURL
	}
	if rec.TranscriptURL != "" {
		change.TranscriptURL = &rec.TranscriptURL
	}
	return s.store.Apply(ctx, id, change)
}

// Recording references a finished session recording.
type Recording struct {
	URL             string `json:"url"`
	DurationSeconds int    `json:"duration_seconds"`
	ThumbnailURL    string `json:"thumbnail_url"`
	TranscriptURL   string `json:"transcript_url"`
}

// VerifySession re-derives every chain entry hash and checks linkage. It is
// pure and idempotent: no session or chain state is touched, and identical
// state yields identical results. A missing session reports verified=false
// rather than an error.
func (s *Service) VerifySession(ctx context.Context, id uuid.UUID) (Verification, error) {
	now := s.now().UTC()

	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metricVerifications.WithLabelValues("missing").Inc()
			return Verification{
				SessionID: id,
				Timestamp: now,
				Verified:  false,
				Chain:     []ChainEntry{},
			}, nil
		}
		return Verification{}, err
	}

	chain, err := s.store.ListChain(ctx, id)
	if err != nil {
		return Verification{}, err
	}

	verified := VerifyChain(id, chain)
	if verified {
		metricVerifications.WithLabelValues("ok").Inc()
	} else {
		metricVerifications.WithLabelValues("broken").Inc()
	}

	return Verification{
		SessionID:        id,
		VerificationHash: session.VerificationHash,
		Timestamp:        now,
		Verified:         verified,
		Chain:            chain,
	}, nil
}

// GetSession returns the stored session.
func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	return s.store.GetSession(ctx, id)
}

// ListUserSessions returns sessions hosted by or joined by the user, newest
// first.
func (s *Service) ListUserSessions(ctx context.Context, userID string) ([]Session, error) {
	return s.store.ListUserSessions(ctx, userID)
}

// GetProof returns the issued proof, or ErrNotFound if the session has not
// completed.
func (s *Service) GetProof(ctx context.Context, id uuid.UUID) (*Proof, error) {
	return s.store.GetProof(ctx, id)
}

// Stats aggregates session counts across the store.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

// nextEntry builds a chain entry linked to the current tail. Callers must
// hold the session lock so the tail cannot move underneath them.
func (s *Service) nextEntry(ctx context.Context, id uuid.UUID, action Action, userID string, now time.Time) (*ChainEntry, error) {
	chain, err := s.store.ListChain(ctx, id)
	if err != nil {
		return nil, err
	}

	prev := ""
	if len(chain) > 0 {
		prev = chain[len(chain)-1].Hash
	}

	entry := ChainEntry{
		Seq:          len(chain) + 1,
		Timestamp:    now,
		Action:       action,
		UserID:       userID,
		PreviousHash: prev,
	}
	entry.Hash = entryHash(prev, action, userID, id, now)
	return &entry, nil
}
