package vcode

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store used in tests and single-node
// deployments without Postgres. All values are copied on the way in and out
// so callers can never alias internal state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]Session
	chains   map[uuid.UUID][]ChainEntry
	proofs   map[uuid.UUID]Proof
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]Session),
		chains:   make(map[uuid.UUID][]ChainEntry),
		proofs:   make(map[uuid.UUID]Proof),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = copySession(*session)
	s.chains[session.ID] = nil
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id uuid.UUID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copySession(session)
	return &out, nil
}

func (s *MemoryStore) ListUserSessions(_ context.Context, userID string) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Session
	for _, session := range s.sessions {
		if session.HostID == userID {
			out = append(out, copySession(session))
			continue
		}
		for _, p := range session.Participants {
			if p.UserID == userID {
				out = append(out, copySession(session))
				break
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].CreatedAt, out[j].CreatedAt
		if out[i].StartTime != nil {
			ti = *out[i].StartTime
		}
		if out[j].StartTime != nil {
			tj = *out[j].StartTime
		}
		return ti.After(tj)
	})
	return out, nil
}

func (s *MemoryStore) ListChain(_ context.Context, id uuid.UUID) ([]ChainEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[id]
	out := make([]ChainEntry, len(chain))
	copy(out, chain)
	return out, nil
}

func (s *MemoryStore) Apply(_ context.Context, id uuid.UUID, change Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}

	session.UpdatedAt = change.UpdatedAt
	if change.Status != nil {
		session.Status = *change.Status
	}
	if change.StartTime != nil {
		t := *change.StartTime
		session.StartTime = &t
	}
	if change.EndTime != nil {
		t := *change.EndTime
		session.EndTime = &t
	}
	if change.RecordingURL != nil {
		session.RecordingURL = *change.RecordingURL
	}
	if change.RecordingDuration != nil {
		session.RecordingDuration = *change.RecordingDuration
	}
	if change.ThumbnailURL != nil {
		session.ThumbnailURL = *change.ThumbnailURL
	}
	if change.TranscriptURL != nil {
		session.TranscriptURL = *change.TranscriptURL
	}
	if change.Interpreter != nil {
		details := *change.Interpreter
		session.SignLanguageInterpreter = true
		session.InterpreterDetails = &details
	}
	if change.AddParticipant != nil {
		session.Participants = append(session.Participants, *change.AddParticipant)
	}
	if patch := change.UpdateParticipant; patch != nil {
		found := false
		for i := range session.Participants {
			if session.Participants[i].UserID != patch.UserID {
				continue
			}
			found = true
			if patch.LeftAt != nil {
				t := *patch.LeftAt
				session.Participants[i].LeftAt = &t
			}
			if patch.Verified != nil {
				session.Participants[i].Verified = *patch.Verified
			}
			if patch.SignatureHash != nil {
				session.Participants[i].SignatureHash = *patch.SignatureHash
			}
			break
		}
		if !found {
			return ErrNotParticipant
		}
	}

	if change.Entry != nil {
		s.chains[id] = append(s.chains[id], *change.Entry)
	}
	if change.Proof != nil {
		s.proofs[id] = *change.Proof
	}

	s.sessions[id] = session
	return nil
}

func (s *MemoryStore) GetProof(_ context.Context, id uuid.UUID) (*Proof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	proof, ok := s.proofs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := proof
	return &out, nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Stats
	var seconds int
	for _, session := range s.sessions {
		stats.TotalSessions++
		switch session.Status {
		case StatusScheduled:
			stats.ScheduledSessions++
		case StatusInProgress:
			stats.ActiveSessions++
		case StatusCompleted:
			stats.CompletedSessions++
		case StatusCancelled:
			stats.CancelledSessions++
		}
		stats.TotalParticipants += len(session.Participants)
		if session.SignLanguageInterpreter {
			stats.SessionsWithInterpreters++
		}
		seconds += session.RecordingDuration
	}
	stats.TotalRecordingHours = float64(seconds) / 3600
	return stats, nil
}

// TamperChain overwrites a stored chain entry in place. It exists so
// integrity tests can simulate external mutation of the log; production code
// never calls it.
func (s *MemoryStore) TamperChain(id uuid.UUID, index int, mutate func(*ChainEntry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[id]
	if index < 0 || index >= len(chain) {
		return false
	}
	mutate(&chain[index])
	return true
}

func copySession(s Session) Session {
	out := s
	out.Participants = make([]Participant, len(s.Participants))
	copy(out.Participants, s.Participants)
	if s.InterpreterDetails != nil {
		details := *s.InterpreterDetails
		details.Certifications = append([]string(nil), s.InterpreterDetails.Certifications...)
		out.InterpreterDetails = &details
	}
	out.Metadata.Tags = append([]string(nil), s.Metadata.Tags...)
	return out
}
