package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sensorsync/go-collector-sync/upload"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// sessionModel is the upload_sessions table row.
type sessionModel struct {
	SessionKey           string `gorm:"primaryKey;size:128"`
	DeviceID             string `gorm:"size:36;not null"`
	MeasurementID        uint64 `gorm:"not null"`
	Location             string `gorm:"size:2048"`
	FailedUploadsCounter int    `gorm:"not null;default:0"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (sessionModel) TableName() string {
	return "upload_sessions"
}

func toModel(s upload.Session) sessionModel {
	return sessionModel{
		SessionKey:           s.ID.String(),
		DeviceID:             s.ID.DeviceID.String(),
		MeasurementID:        s.ID.MeasurementID,
		Location:             s.Location,
		FailedUploadsCounter: s.FailedUploadsCounter,
	}
}

func (m sessionModel) toSession() (*upload.Session, error) {
	id, err := upload.ParseIdentifier(m.SessionKey)
	if err != nil {
		return nil, err
	}
	return &upload.Session{
		ID:                   id,
		Location:             m.Location,
		FailedUploadsCounter: m.FailedUploadsCounter,
	}, nil
}

// SQL is a SessionRegistry stored in a relational database through gorm.
type SQL struct {
	db *gorm.DB
}

var _ upload.SessionRegistry = (*SQL)(nil)

// NewSQL migrates the upload_sessions table on db.
func NewSQL(db *gorm.DB) (*SQL, error) {
	if err := db.AutoMigrate(&sessionModel{}); err != nil {
		return nil, fmt.Errorf("migrate upload sessions: %w", err)
	}
	return &SQL{db: db}, nil
}

// OpenSQLite opens a registry in the sqlite database file at path.
func OpenSQLite(path string) (*SQL, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite session registry: %w", err)
	}
	return NewSQL(db)
}

// OpenPostgres opens a registry in the postgres database at dsn.
func OpenPostgres(dsn string) (*SQL, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open postgres session registry: %w", err)
	}
	return NewSQL(db)
}

// Close ...
func (r *SQL) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Get ...
func (r *SQL) Get(ctx context.Context, id upload.Identifier) (*upload.Session, error) {
	var m sessionModel
	err := r.db.WithContext(ctx).Where("session_key = ?", id.String()).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return m.toSession()
}

// Register ...
func (r *SQL) Register(ctx context.Context, s upload.Session) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&sessionModel{}).Where("session_key = ?", s.ID.String()).Count(&count).Error; err != nil {
			return fmt.Errorf("check session %s: %w", s.ID, err)
		}
		if count > 0 {
			return upload.ErrDuplicateSession
		}

		m := toModel(s)
		if err := tx.Create(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return upload.ErrDuplicateSession
			}
			return fmt.Errorf("create session %s: %w", s.ID, err)
		}
		return nil
	})
}

// Update ...
func (r *SQL) Update(ctx context.Context, s upload.Session) error {
	m := toModel(s)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"location", "failed_uploads_counter", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	return nil
}

// Remove ...
func (r *SQL) Remove(ctx context.Context, id upload.Identifier) error {
	err := r.db.WithContext(ctx).Where("session_key = ?", id.String()).Delete(&sessionModel{}).Error
	if err != nil {
		return fmt.Errorf("remove session %s: %w", id, err)
	}
	return nil
}
