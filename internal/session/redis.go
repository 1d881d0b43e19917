// Package session tracks failed-login counters and lockouts backing the
// Auth component's brute-force protection.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	LockoutTTL       = 15 * time.Minute
	LockoutThreshold = 5
)

type Manager struct {
	client *redis.Client
}

func NewManager(addr string, password string) *Manager {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	return &Manager{client: rdb}
}

func NewManagerFromClient(client *redis.Client) *Manager {
	return &Manager{client: client}
}

// CheckLockout returns true if username is currently locked out.
func (m *Manager) CheckLockout(ctx context.Context, username string) (bool, error) {
	key := fmt.Sprintf("lockout:%s", username)
	val, err := m.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "locked", nil
}

// RecordFailedAttempt increments username's failure count and locks it out
// once LockoutThreshold is reached within LockoutTTL.
func (m *Manager) RecordFailedAttempt(ctx context.Context, username string) error {
	key := fmt.Sprintf("lockout_count:%s", username)
	count, err := m.client.Incr(ctx, key).Result()
	if err != nil {
		return err
	}

	if count == 1 {
		m.client.Expire(ctx, key, LockoutTTL)
	}

	if count >= LockoutThreshold {
		lockKey := fmt.Sprintf("lockout:%s", username)
		m.client.Set(ctx, lockKey, "locked", LockoutTTL)
		m.client.Del(ctx, key)
	}
	return nil
}

// ClearFailures resets username's failure counter and lockout after a
// successful login.
func (m *Manager) ClearFailures(ctx context.Context, username string) error {
	pipe := m.client.Pipeline()
	pipe.Del(ctx, fmt.Sprintf("lockout_count:%s", username))
	pipe.Del(ctx, fmt.Sprintf("lockout:%s", username))
	_, err := pipe.Exec(ctx)
	return err
}
