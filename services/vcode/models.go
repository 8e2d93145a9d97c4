package vcode

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type sessionModel struct {
	ID                      uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Title                   string         `gorm:"type:text;not null"`
	Description             string         `gorm:"type:text"`
	HostID                  string         `gorm:"type:text;not null;index"`
	StartTime               *time.Time     `gorm:"type:timestamptz"`
	EndTime                 *time.Time     `gorm:"type:timestamptz"`
	Status                  string         `gorm:"type:text;not null;index"`
	RecordingURL            string         `gorm:"type:text"`
	RecordingDuration       int            `gorm:"type:integer;not null;default:0"`
	ThumbnailURL            string         `gorm:"type:text"`
	VerificationHash        string         `gorm:"type:text;not null"`
	TranscriptURL           string         `gorm:"type:text"`
	SignLanguageInterpreter bool           `gorm:"type:boolean;not null;default:false"`
	Interpreter             datatypes.JSON `gorm:"type:jsonb"`
	Metadata                datatypes.JSON `gorm:"type:jsonb;default:'{}'::jsonb"`
	CreatedAt               time.Time      `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt               time.Time      `gorm:"type:timestamptz;not null;default:now()"`
}

func (sessionModel) TableName() string { return "vcode_sessions" }

func (m sessionModel) toAPI() (Session, error) {
	s := Session{
		ID:                      m.ID,
		Title:                   m.Title,
		Description:             m.Description,
		HostID:                  m.HostID,
		StartTime:               m.StartTime,
		EndTime:                 m.EndTime,
		Status:                  Status(m.Status),
		RecordingURL:            m.RecordingURL,
		RecordingDuration:       m.RecordingDuration,
		ThumbnailURL:            m.ThumbnailURL,
		VerificationHash:        m.VerificationHash,
		TranscriptURL:           m.TranscriptURL,
		SignLanguageInterpreter: m.SignLanguageInterpreter,
		CreatedAt:               m.CreatedAt,
		UpdatedAt:               m.UpdatedAt,
	}
	if len(m.Interpreter) > 0 {
		var details InterpreterDetails
		if err := json.Unmarshal(m.Interpreter, &details); err != nil {
			return Session{}, err
		}
		s.InterpreterDetails = &details
	}
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &s.Metadata); err != nil {
			return Session{}, err
		}
	}
	return s, nil
}

func sessionToModel(s Session) (sessionModel, error) {
	m := sessionModel{
		ID:                      s.ID,
		Title:                   s.Title,
		Description:             s.Description,
		HostID:                  s.HostID,
		StartTime:               s.StartTime,
		EndTime:                 s.EndTime,
		Status:                  string(s.Status),
		RecordingURL:            s.RecordingURL,
		RecordingDuration:       s.RecordingDuration,
		ThumbnailURL:            s.ThumbnailURL,
		VerificationHash:        s.VerificationHash,
		TranscriptURL:           s.TranscriptURL,
		SignLanguageInterpreter: s.SignLanguageInterpreter,
		CreatedAt:               s.CreatedAt,
		UpdatedAt:               s.UpdatedAt,
	}
	if s.InterpreterDetails != nil {
		raw, err := json.Marshal(s.InterpreterDetails)
		if err != nil {
			return sessionModel{}, err
		}
		m.Interpreter = datatypes.JSON(raw)
	}
	raw, err := json.Marshal(s.Metadata)
	if err != nil {
		return sessionModel{}, err
	}
	m.Metadata = datatypes.JSON(raw)
	return m, nil
}

type participantModel struct {
	ID            int64      `gorm:"type:bigserial;primaryKey"`
	SessionID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_vcode_participants_session_user,priority:1"`
	UserID        string     `gorm:"type:text;not null;uniqueIndex:idx_vcode_participants_session_user,priority:2;index"`
	Name          string     `gorm:"type:text"`
	Role          string     `gorm:"type:text;not null"`
	JoinedAt      *time.Time `gorm:"type:timestamptz"`
	LeftAt        *time.Time `gorm:"type:timestamptz"`
	Verified      bool       `gorm:"type:boolean;not null;default:false"`
	SignatureHash string     `gorm:"type:text"`
}

func (participantModel) TableName() string { return "vcode_participants" }

func (m participantModel) toAPI() Participant {
	return Participant{
		UserID:        m.UserID,
		Name:          m.Name,
		Role:          Role(m.Role),
		JoinedAt:      m.JoinedAt,
		LeftAt:        m.LeftAt,
		Verified:      m.Verified,
		SignatureHash: m.SignatureHash,
	}
}

// chainEntryModel persists timestamps as unix nanoseconds so the digest input
// survives the round trip; timestamptz only keeps microsecond precision.
type chainEntryModel struct {
	ID           int64     `gorm:"type:bigserial;primaryKey"`
	SessionID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_vcode_chain_session_seq,priority:1"`
	Seq          int       `gorm:"type:integer;not null;uniqueIndex:idx_vcode_chain_session_seq,priority:2"`
	TS           int64     `gorm:"type:bigint;not null;column:ts"`
	Action       string    `gorm:"type:text;not null"`
	UserID       string    `gorm:"type:text;not null"`
	Hash         string    `gorm:"type:text;not null"`
	PreviousHash string    `gorm:"type:text;not null;default:''"`
}

func (chainEntryModel) TableName() string { return "vcode_chain_entries" }

func (m chainEntryModel) toAPI() ChainEntry {
	return ChainEntry{
		Seq:          m.Seq,
		Timestamp:    time.Unix(0, m.TS).UTC(),
		Action:       Action(m.Action),
		UserID:       m.UserID,
		Hash:         m.Hash,
		PreviousHash: m.PreviousHash,
	}
}

type proofModel struct {
	SessionID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProofURL       string    `gorm:"type:text;not null"`
	QRCode         string    `gorm:"type:text;not null"`
	CertificateURL string    `gorm:"type:text;not null"`
	ChainHead      string    `gorm:"type:text;not null"`
	Attestation    string    `gorm:"type:text"`
	AttestationKey string    `gorm:"type:text"`
	IssuedAt       time.Time `gorm:"type:timestamptz;not null"`
	ExpiresAt      time.Time `gorm:"type:timestamptz;not null"`
}

func (proofModel) TableName() string { return "vcode_proofs" }

func (m proofModel) toAPI() Proof {
	return Proof{
		SessionID:      m.SessionID,
		ProofURL:       m.ProofURL,
		QRCode:         m.QRCode,
		CertificateURL: m.CertificateURL,
		ChainHead:      m.ChainHead,
		Attestation:    m.Attestation,
		AttestationKey: m.AttestationKey,
		IssuedAt:       m.IssuedAt,
		ExpiresAt:      m.ExpiresAt,
	}
}
