package checkpoint

import (
	"fmt"

	"github.com/luminachat/chatflow/config"
)

// NewStore creates a checkpoint store from configuration.
func NewStore(cfg config.CheckpointConfig) (Store, error) {
	switch Backend(cfg.Backend) {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(cfg.Dir)
	case BackendRedis:
		return NewRedisStore(cfg.Redis)
	case BackendDatabase:
		return NewDatabaseStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint backend: %s", cfg.Backend)
	}
}

// MustNewStore creates a checkpoint store or panics on error.
//
// WARNING: only use during application initialization (main or init). For
// runtime store creation, use NewStore instead.
func MustNewStore(cfg config.CheckpointConfig) Store {
	store, err := NewStore(cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to create checkpoint store: %v", err))
	}
	return store
}
