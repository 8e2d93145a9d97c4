package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Session struct {
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

func (Session) TableName() string { return "vcode_sessions" }

type Participant struct {
	ID            int64      `gorm:"type:bigserial;primaryKey"`
	SessionID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_vcode_participants_session_user,priority:1"`
	UserID        string     `gorm:"type:text;not null;uniqueIndex:idx_vcode_participants_session_user,priority:2;index"`
	Name          string     `gorm:"type:text"`
	Role          string     `gorm:"type:text;not null"`
	JoinedAt      *time.Time `gorm:"type:timestamptz"`
	LeftAt        *time.Time `gorm:"type:timestamptz"`
	Verified      bool       `gorm:"type:boolean;not null;default:false"`
	SignatureHash string     `gorm:"type:text"`
	Session       Session    `gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (Participant) TableName() string { return "vcode_participants" }

type ChainEntry struct {
	ID           int64     `gorm:"type:bigserial;primaryKey"`
	SessionID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_vcode_chain_session_seq,priority:1"`
	Seq          int       `gorm:"type:integer;not null;uniqueIndex:idx_vcode_chain_session_seq,priority:2"`
	TS           int64     `gorm:"type:bigint;not null;column:ts"`
	Action       string    `gorm:"type:text;not null"`
	UserID       string    `gorm:"type:text;not null"`
	Hash         string    `gorm:"type:text;not null"`
	PreviousHash string    `gorm:"type:text;not null;default:''"`
	Session      Session   `gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (ChainEntry) TableName() string { return "vcode_chain_entries" }

type Proof struct {
	SessionID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProofURL       string    `gorm:"type:text;not null"`
	QRCode         string    `gorm:"type:text;not null"`
	CertificateURL string    `gorm:"type:text;not null"`
	ChainHead      string    `gorm:"type:text;not null"`
	Attestation    string    `gorm:"type:text"`
	AttestationKey string    `gorm:"type:text"`
	IssuedAt       time.Time `gorm:"type:timestamptz;not null"`
	ExpiresAt      time.Time `gorm:"type:timestamptz;not null"`
	Session        Session   `gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (Proof) TableName() string { return "vcode_proofs" }

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&Session{},
		&Participant{},
		&ChainEntry{},
		&Proof{},
	); err != nil {
		return err
	}

	m := gormDB.WithContext(ctx).Migrator()
	if err := m.CreateConstraint(&Participant{}, "Session"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&ChainEntry{}, "Session"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&Proof{}, "Session"); err != nil {
		return err
	}

	return nil
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&Proof{},
		&ChainEntry{},
		&Participant{},
		&Session{},
	)
}
