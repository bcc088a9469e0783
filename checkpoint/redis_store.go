package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luminachat/chatflow/config"
)

// RedisStore is a Redis-based checkpoint store. Suitable for distributed
// production deployments. Each checkpoint lives under one key; a sorted
// set scored by creation time indexes sessions for cleanup. Writes go
// through MULTI/EXEC so data and index never disagree.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a Redis-backed checkpoint store and verifies the
// connection.
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "chatflow:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "checkpoint:",
	}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "chatflow:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix + "checkpoint:"}
}

func (s *RedisStore) dataKey(sessionID string) string {
	return s.keyPrefix + "data:" + sessionID
}

func (s *RedisStore) indexKey() string {
	return s.keyPrefix + "index"
}

// Save persists a checkpoint, replacing any prior one for the session.
func (s *RedisStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}

	stored := *cp
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dataKey(cp.SessionID), data, 0)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(stored.CreatedAt.UnixNano()),
		Member: cp.SessionID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load returns the checkpoint for a session.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*Checkpoint, error) {
	data, err := s.client.Get(ctx, s.dataKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Delete removes a session's checkpoint.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.dataKey(sessionID))
	pipe.ZRem(ctx, s.indexKey(), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// cleanupScript deletes one session's checkpoint only if its index score
// is still at or below the cutoff, closing the window between the scan and
// the delete. KEYS[1] index, KEYS[2] data key; ARGV[1] session id,
// ARGV[2] cutoff in unix nanoseconds.
var cleanupScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score then
	return 0
end
if tonumber(score) > tonumber(ARGV[2]) then
	return 0
end
redis.call('DEL', KEYS[2])
redis.call('ZREM', KEYS[1], ARGV[1])
return 1
`)

// Cleanup removes checkpoints older than maxAge. The index scan yields a
// snapshot of candidates; the per-session delete is a script that
// re-checks the index score atomically, so a concurrent overwrite is
// never discarded.
func (s *RedisStore) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	candidates, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff.UnixNano()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan checkpoint index: %w", err)
	}

	removed := 0
	for _, sessionID := range candidates {
		n, err := cleanupScript.Run(ctx, s.client,
			[]string{s.indexKey(), s.dataKey(sessionID)},
			sessionID, cutoff.UnixNano()).Int()
		if err != nil {
			return removed, fmt.Errorf("failed to clean up checkpoint: %w", err)
		}
		removed += n
	}
	return removed, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks store health.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
