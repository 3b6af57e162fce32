package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/riverline-data/ingestor/internal/repository"
)

var _ repository.RunLocker = (*RunLocker)(nil)

const (
	lockKeyPrefix = "ingestor:runlock:"

	// lockTTL bounds how long a crashed instance can block the next run.
	lockTTL = 30 * time.Minute
)

// RunLocker is the Redis-backed run lock. Only one orchestrator instance
// may execute a given named run at a time.
type RunLocker struct {
	client *goredis.Client
}

// NewRunLocker creates a RunLocker on the given client.
func NewRunLocker(client *goredis.Client) *RunLocker {
	return &RunLocker{client: client}
}

// AcquireRunLock uses SETNX to atomically claim the named lock.
func (r *RunLocker) AcquireRunLock(ctx context.Context, name string) (bool, error) {
	ok, err := r.client.SetNX(ctx, lockKeyPrefix+name, time.Now().Unix(), lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire run lock: %w", err)
	}
	return ok, nil
}

// ReleaseRunLock deletes the lock key so the next run can proceed
// immediately instead of waiting out the TTL.
func (r *RunLocker) ReleaseRunLock(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, lockKeyPrefix+name).Err(); err != nil {
		return fmt.Errorf("redis: release run lock: %w", err)
	}
	return nil
}
