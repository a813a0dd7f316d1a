package redis

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/redis/go-redis/v9"
)

type lockoutRecord struct {
	Failures    int    `json:"failures"`
	LockedUntil *int64 `json:"locked_until,omitempty"`
	UpdatedAt   int64  `json:"updated_at"`
}

func (r lockoutRecord) state(accountID string) domain.LockoutState {
	s := domain.LockoutState{
		AccountID: accountID,
		Failures:  r.Failures,
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
	if r.LockedUntil != nil {
		t := fromMillis(*r.LockedUntil)
		s.LockedUntil = &t
	}
	return s
}

// recordFailureLua is domain.LockoutState.RecordFailure plus the ttl rule
// below, applied to the stored counter.
//
//	KEYS[1] lockout key
//	ARGV[1] now ms, ARGV[2] window ms, ARGV[3] base ttl ms
//	ARGV[4..] ascending (failures, lock ms) pairs
//
// Returns the updated record as JSON.
var recordFailureLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local base = tonumber(ARGV[3])

local s = {failures = 0, updated_at = 0}
local raw = redis.call('GET', KEYS[1])
if raw then
  s = cjson.decode(raw)
end

local locked = s.locked_until and now < s.locked_until
if not locked and window > 0 and s.failures > 0 and now - s.updated_at > window then
  s.failures = 0
  s.locked_until = nil
end

s.failures = s.failures + 1
s.updated_at = now

local lock = 0
local n = #ARGV
if n >= 5 then
  if s.failures > tonumber(ARGV[n - 1]) then
    lock = tonumber(ARGV[n])
  else
    for i = 4, n - 1, 2 do
      if tonumber(ARGV[i]) == s.failures then
        lock = tonumber(ARGV[i + 1])
      end
    end
  end
end
if lock > 0 then
  s.locked_until = now + lock
end

local ttl = base
if s.locked_until and s.locked_until - now + base > ttl then
  ttl = s.locked_until - now + base
end

local out = cjson.encode(s)
redis.call('SET', KEYS[1], out, 'PX', ttl)
return out
`)

// Key: {prefix}:lock:{account}
type lockoutsRepo struct{ s *Store }

func (r *lockoutsRepo) key(accountID string) string {
	return r.s.key("lock", accountID)
}

func (r *lockoutsRepo) GetLockout(ctx context.Context, accountID string) (domain.LockoutState, error) {
	data, err := r.s.rdb.Get(ctx, r.key(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.LockoutState{}, store.ErrNotFound
	}
	if err != nil {
		return domain.LockoutState{}, err
	}

	rec, err := decode[lockoutRecord](data)
	if err != nil {
		return domain.LockoutState{}, err
	}
	return rec.state(accountID), nil
}

// RecordFailure keeps the counter for the failure window, or until the lock
// lifts plus the window when that is longer.
func (r *lockoutsRepo) RecordFailure(ctx context.Context, accountID string, rule domain.LockoutRule) (domain.LockoutState, error) {
	args := []any{toMillis(rule.Now), rule.Window.Milliseconds(), r.s.opts.LockoutTTL.Milliseconds()}
	for _, step := range rule.Steps {
		args = append(args, step.Failures, step.Duration.Milliseconds())
	}

	out, err := recordFailureLua.Run(ctx, r.s.rdb, []string{r.key(accountID)}, args...).Text()
	if err != nil {
		return domain.LockoutState{}, err
	}
	rec, err := decode[lockoutRecord]([]byte(out))
	if err != nil {
		return domain.LockoutState{}, err
	}
	return rec.state(accountID), nil
}

func (r *lockoutsRepo) DeleteLockout(ctx context.Context, accountID string) error {
	return r.s.rdb.Del(ctx, r.key(accountID)).Err()
}

// DeleteStaleLockouts is a no-op; keys expire on their own.
func (r *lockoutsRepo) DeleteStaleLockouts(context.Context, time.Time) (int64, error) {
	return 0, nil
}
