// Package redis keeps the ephemeral auth state (challenges and lockout
// counters) in Redis so several instances share it. Every read-modify-write
// runs as a single Lua script, so concurrent callers never conflict.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix     = "gk"
	defaultRetention  = 10 * time.Minute
	defaultLockoutTTL = 24 * time.Hour
)

var ErrBackend = errors.New("redis: backend unavailable")

type Options struct {
	// Prefix namespaces every key. Defaults to "gk".
	Prefix string

	// Retention keeps a challenge readable past its expiry so callers can
	// tell "expired" from "never existed".
	Retention time.Duration

	// LockoutTTL is how long an untouched lockout counter survives. It
	// should match the failure window.
	LockoutTTL time.Duration
}

type Store struct {
	rdb  redis.UniversalClient
	opts Options
}

var _ store.Ephemeral = (*Store)(nil)

func NewStore(rdb redis.UniversalClient, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.LockoutTTL <= 0 {
		opts.LockoutTTL = defaultLockoutTTL
	}
	return &Store{rdb: rdb, opts: opts}
}

func (s *Store) Challenges() store.Challenges { return &challengesRepo{s: s} }
func (s *Store) Lockouts() store.Lockouts     { return &lockoutsRepo{s: s} }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) key(parts ...string) string {
	k := s.opts.Prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func decode[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("redis: decode record: %w", err)
	}
	return v, nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
