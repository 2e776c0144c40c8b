package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/beacon-attendance/pkg/errors"
)

// LocalKVRepository stores JSON values in the local SQLite kv_entries table.
type LocalKVRepository struct {
	db *sqlx.DB
}

// NewLocalKVRepository constructs the SQLite backed key/value store.
func NewLocalKVRepository(db *sqlx.DB) *LocalKVRepository {
	return &LocalKVRepository{db: db}
}

// Get unmarshals the value stored under key into dest.
func (r *LocalKVRepository) Get(ctx context.Context, key string, dest interface{}) error {
	var raw []byte
	if err := r.db.GetContext(ctx, &raw, `SELECT value FROM kv_entries WHERE key = ?`, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("kv get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal kv value for %s: %w", key, err)
	}
	return nil
}

// Set marshals value and stores it under key.
func (r *LocalKVRepository) Set(ctx context.Context, key string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal kv value for %s: %w", key, err)
	}
	const query = `INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := r.db.ExecContext(ctx, query, key, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (r *LocalKVRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// RedisKVRepository stores JSON values in Redis for multi-device kiosks.
type RedisKVRepository struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisKVRepository constructs a Redis backed key/value store.
func NewRedisKVRepository(client *redis.Client, prefix string, logger *zap.Logger) *RedisKVRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisKVRepository{client: client, prefix: prefix, logger: logger}
}

// Get retrieves and unmarshals the stored value into dest.
func (r *RedisKVRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal kv value for %s: %w", key, err)
	}
	return nil
}

// Set marshals value and stores it without expiry.
func (r *RedisKVRepository) Set(ctx context.Context, key string, value interface{}) error {
	if r.client == nil {
		r.logger.Debug("redis kv disabled, dropping write", zap.String("key", key))
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal kv value for %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.prefix+key, payload, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (r *RedisKVRepository) Delete(ctx context.Context, key string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying Redis connection if present.
func (r *RedisKVRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
