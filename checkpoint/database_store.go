package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/luminachat/chatflow/types"
)

// checkpointRecord is the database row for a session's checkpoint. The
// state snapshot is stored as serialized JSON so the schema stays stable
// as WorkflowState evolves.
type checkpointRecord struct {
	SessionID    string    `gorm:"primaryKey;column:session_id"`
	WorkflowType string    `gorm:"column:workflow_type"`
	StageName    string    `gorm:"column:stage_name"`
	State        []byte    `gorm:"column:state"`
	CreatedAt    time.Time `gorm:"column:created_at;index"`
}

func (checkpointRecord) TableName() string {
	return "checkpoints"
}

// DatabaseStore persists checkpoints in a SQL database via GORM. The
// default driver is the pure-Go sqlite build, so single-node deployments
// need no cgo. Upserts happen in a single statement, which keeps
// per-session writes serialized at the database.
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore opens (or creates) the sqlite database at path and
// migrates the checkpoints table.
func NewDatabaseStore(path string) (*DatabaseStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	return NewDatabaseStoreWithDB(db)
}

// NewDatabaseStoreWithDB wraps an existing GORM handle. Used by tests and
// deployments bringing their own database.
func NewDatabaseStoreWithDB(db *gorm.DB) (*DatabaseStore, error) {
	if err := db.AutoMigrate(&checkpointRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate checkpoints table: %w", err)
	}
	return &DatabaseStore{db: db}, nil
}

// Save persists a checkpoint, replacing any prior one for the session.
func (s *DatabaseStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}

	createdAt := cp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	state, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint state: %w", err)
	}

	record := checkpointRecord{
		SessionID:    cp.SessionID,
		WorkflowType: string(cp.WorkflowType),
		StageName:    cp.StageName,
		State:        state,
		CreatedAt:    createdAt,
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			UpdateAll: true,
		}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load returns the checkpoint for a session.
func (s *DatabaseStore) Load(ctx context.Context, sessionID string) (*Checkpoint, error) {
	var record checkpointRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var state types.WorkflowState
	if err := json.Unmarshal(record.State, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint state: %w", err)
	}

	return &Checkpoint{
		SessionID:    record.SessionID,
		WorkflowType: types.WorkflowType(record.WorkflowType),
		StageName:    record.StageName,
		State:        &state,
		CreatedAt:    record.CreatedAt,
	}, nil
}

// Delete removes a session's checkpoint.
func (s *DatabaseStore) Delete(ctx context.Context, sessionID string) error {
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&checkpointRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Cleanup removes checkpoints older than maxAge. The single DELETE with a
// timestamp predicate evaluates against current rows, so a checkpoint
// overwritten after the cutoff is untouched.
func (s *DatabaseStore) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&checkpointRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to clean up checkpoints: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// Close closes the underlying database connection.
func (s *DatabaseStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
