// Package checkpoint provides durable persistence of workflow state
// snapshots keyed by session id.
//
// Only the most recent checkpoint per session is retained: Save overwrites
// any prior checkpoint for the same session. This is a recovery mechanism,
// not a history log.
//
// Supported backends:
// - Memory: for development and testing (default)
// - File: for single-node production deployments
// - Redis: for distributed production deployments
// - Database: for deployments that want SQL durability
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/luminachat/chatflow/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("checkpoint not found")
	ErrStoreClosed  = errors.New("checkpoint store is closed")
	ErrInvalidInput = errors.New("invalid checkpoint")
)

// Backend identifies a store implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendFile     Backend = "file"
	BackendRedis    Backend = "redis"
	BackendDatabase Backend = "database"
)

// Checkpoint is a durable snapshot of a run at a stage boundary. StageName
// is the next stage to execute when the run is resumed.
type Checkpoint struct {
	SessionID    string               `json:"session_id"`
	WorkflowType types.WorkflowType   `json:"workflow_type"`
	StageName    string               `json:"stage_name"`
	State        *types.WorkflowState `json:"state"`
	CreatedAt    time.Time            `json:"created_at"`
}

// Validate checks the checkpoint is storable.
func (c *Checkpoint) Validate() error {
	if c == nil || c.SessionID == "" || c.State == nil {
		return ErrInvalidInput
	}
	return nil
}

// Store persists checkpoints keyed by session id.
//
// Save must overwrite any existing checkpoint for the same session.
// Cleanup must be safe to run concurrently with active saves: it snapshots
// the candidate set before deleting and never removes a checkpoint written
// after the scan started.
type Store interface {
	// Save persists a checkpoint, replacing any prior one for the session.
	Save(ctx context.Context, cp *Checkpoint) error

	// Load returns the checkpoint for a session, or ErrNotFound.
	Load(ctx context.Context, sessionID string) (*Checkpoint, error)

	// Delete removes a session's checkpoint. Deleting a missing
	// checkpoint is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Cleanup removes checkpoints older than maxAge and returns how many
	// were removed.
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)

	// Close releases store resources.
	Close() error
}
