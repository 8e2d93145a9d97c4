package vcode

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists sessions, chains, and proofs in Postgres. A Change is
// applied inside a single transaction holding a row lock on the session, so
// the status update and its chain append are atomic.
type GormStore struct {
	orm *gorm.DB
}

// NewGormStore wraps the provided GORM handle.
func NewGormStore(orm *gorm.DB) (*GormStore, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	return &GormStore{orm: orm}, nil
}

func (s *GormStore) CreateSession(ctx context.Context, session *Session) error {
	if session == nil {
		return errors.New("nil session")
	}

	model, err := sessionToModel(*session)
	if err != nil {
		return err
	}

	return s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		for _, p := range session.Participants {
			row := participantModel{
				SessionID:     session.ID,
				UserID:        p.UserID,
				Name:          p.Name,
				Role:          string(p.Role),
				JoinedAt:      p.JoinedAt,
				LeftAt:        p.LeftAt,
				Verified:      p.Verified,
				SignatureHash: p.SignatureHash,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	var model sessionModel
	if err := s.orm.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	session, err := model.toAPI()
	if err != nil {
		return nil, err
	}

	participants, err := s.listParticipants(ctx, s.orm, id)
	if err != nil {
		return nil, err
	}
	session.Participants = participants

	return &session, nil
}

func (s *GormStore) ListUserSessions(ctx context.Context, userID string) ([]Session, error) {
	var models []sessionModel
	err := s.orm.WithContext(ctx).
		Where("host_id = ?", userID).
		Or("id IN (?)", s.orm.Model(&participantModel{}).Select("session_id").Where("user_id = ?", userID)).
		Order("start_time DESC NULLS LAST").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	sessions := make([]Session, 0, len(models))
	for _, m := range models {
		session, err := m.toAPI()
		if err != nil {
			return nil, err
		}
		participants, err := s.listParticipants(ctx, s.orm, m.ID)
		if err != nil {
			return nil, err
		}
		session.Participants = participants
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *GormStore) ListChain(ctx context.Context, id uuid.UUID) ([]ChainEntry, error) {
	var models []chainEntryModel
	err := s.orm.WithContext(ctx).
		Where("session_id = ?", id).
		Order("seq ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	chain := make([]ChainEntry, 0, len(models))
	for _, m := range models {
		chain = append(chain, m.toAPI())
	}
	return chain, nil
}

func (s *GormStore) Apply(ctx context.Context, id uuid.UUID, change Change) error {
	return s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model sessionModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		updates := map[string]any{"updated_at": change.UpdatedAt}
		if change.Status != nil {
			updates["status"] = string(*change.Status)
		}
		if change.StartTime != nil {
			updates["start_time"] = *change.StartTime
		}
		if change.EndTime != nil {
			updates["end_time"] = *change.EndTime
		}
		if change.RecordingURL != nil {
			updates["recording_url"] = *change.RecordingURL
		}
		if change.RecordingDuration != nil {
			updates["recording_duration"] = *change.RecordingDuration
		}
		if change.ThumbnailURL != nil {
			updates["thumbnail_url"] = *change.ThumbnailURL
		}
		if change.TranscriptURL != nil {
			updates["transcript_url"] = *change.TranscriptURL
		}
		if change.Interpreter != nil {
			raw, err := interpreterJSON(change.Interpreter)
			if err != nil {
				return err
			}
			updates["sign_language_interpreter"] = true
			updates["interpreter"] = raw
		}

		if err := tx.Model(&sessionModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}

		if p := change.AddParticipant; p != nil {
			row := participantModel{
				SessionID:     id,
				UserID:        p.UserID,
				Name:          p.Name,
				Role:          string(p.Role),
				JoinedAt:      p.JoinedAt,
				LeftAt:        p.LeftAt,
				Verified:      p.Verified,
				SignatureHash: p.SignatureHash,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		if patch := change.UpdateParticipant; patch != nil {
			fields := map[string]any{}
			if patch.LeftAt != nil {
				fields["left_at"] = *patch.LeftAt
			}
			if patch.Verified != nil {
				fields["verified"] = *patch.Verified
			}
			if patch.SignatureHash != nil {
				fields["signature_hash"] = *patch.SignatureHash
			}
			if len(fields) > 0 {
				res := tx.Model(&participantModel{}).
					Where("session_id = ? AND user_id = ?", id, patch.UserID).
					Updates(fields)
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					return ErrNotParticipant
				}
			}
		}

		if e := change.Entry; e != nil {
			row := chainEntryModel{
				SessionID:    id,
				Seq:          e.Seq,
				TS:           e.Timestamp.UnixNano(),
				Action:       string(e.Action),
				UserID:       e.UserID,
				Hash:         e.Hash,
				PreviousHash: e.PreviousHash,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		if change.Proof != nil {
			row := proofModel{
				SessionID:      change.Proof.SessionID,
				ProofURL:       change.Proof.ProofURL,
				QRCode:         change.Proof.QRCode,
				CertificateURL: change.Proof.CertificateURL,
				ChainHead:      change.Proof.ChainHead,
				Attestation:    change.Proof.Attestation,
				AttestationKey: change.Proof.AttestationKey,
				IssuedAt:       change.Proof.IssuedAt,
				ExpiresAt:      change.Proof.ExpiresAt,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *GormStore) GetProof(ctx context.Context, id uuid.UUID) (*Proof, error) {
	var model proofModel
	if err := s.orm.WithContext(ctx).First(&model, "session_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	proof := model.toAPI()
	return &proof, nil
}

func (s *GormStore) Stats(ctx context.Context) (Stats, error) {
	orm := s.orm.WithContext(ctx)

	var rows []struct {
		Status string
		N      int
	}
	if err := orm.Model(&sessionModel{}).
		Select("status, count(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, row := range rows {
		stats.TotalSessions += row.N
		switch Status(row.Status) {
		case StatusScheduled:
			stats.ScheduledSessions = row.N
		case StatusInProgress:
			stats.ActiveSessions = row.N
		case StatusCompleted:
			stats.CompletedSessions = row.N
		case StatusCancelled:
			stats.CancelledSessions = row.N
		}
	}

	var participants int64
	if err := orm.Model(&participantModel{}).Count(&participants).Error; err != nil {
		return Stats{}, err
	}
	stats.TotalParticipants = int(participants)

	var interpreters int64
	if err := orm.Model(&sessionModel{}).
		Where("sign_language_interpreter = ?", true).
		Count(&interpreters).Error; err != nil {
		return Stats{}, err
	}
	stats.SessionsWithInterpreters = int(interpreters)

	var seconds struct{ Total float64 }
	if err := orm.Model(&sessionModel{}).
		Select("COALESCE(SUM(recording_duration), 0) AS total").
		Scan(&seconds).Error; err != nil {
		return Stats{}, err
	}
	stats.TotalRecordingHours = seconds.Total / 3600

	return stats, nil
}

func (s *GormStore) listParticipants(ctx context.Context, orm *gorm.DB, id uuid.UUID) ([]Participant, error) {
	var models []participantModel
	err := orm.WithContext(ctx).
		Where("session_id = ?", id).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	participants := make([]Participant, 0, len(models))
	for _, m := range models {
		participants = append(participants, m.toAPI())
	}
	return participants, nil
}

// interpreterJSON marshals interpreter details for the jsonb column.
func interpreterJSON(details *InterpreterDetails) (datatypes.JSON, error) {
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
