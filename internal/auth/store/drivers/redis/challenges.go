package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/redis/go-redis/v9"
)

type challengeRecord struct {
	ID                string `json:"id"`
	Purpose           string `json:"purpose"`
	AccountID         string `json:"account_id"`
	Method            string `json:"method"`
	CodeHash          string `json:"code_hash,omitempty"`
	ExpiresAt         int64  `json:"expires_at"`
	AttemptsRemaining int    `json:"attempts_remaining"`
	Consumed          bool   `json:"consumed,omitempty"`
	CreatedAt         int64  `json:"created_at"`
}

func newChallengeRecord(c domain.Challenge) challengeRecord {
	return challengeRecord{
		ID:                c.ID,
		Purpose:           string(c.Purpose),
		AccountID:         c.AccountID,
		Method:            string(c.Method),
		CodeHash:          c.CodeHash,
		ExpiresAt:         toMillis(c.ExpiresAt),
		AttemptsRemaining: c.AttemptsRemaining,
		Consumed:          c.Consumed,
		CreatedAt:         toMillis(c.CreatedAt),
	}
}

func (r challengeRecord) challenge() domain.Challenge {
	return domain.Challenge{
		ID:                r.ID,
		Purpose:           domain.ChallengePurpose(r.Purpose),
		AccountID:         r.AccountID,
		Method:            domain.ChallengeMethod(r.Method),
		CodeHash:          r.CodeHash,
		ExpiresAt:         fromMillis(r.ExpiresAt),
		AttemptsRemaining: r.AttemptsRemaining,
		Consumed:          r.Consumed,
		CreatedAt:         fromMillis(r.CreatedAt),
	}
}

// upsertChallengeLua replaces the account's challenge and its id index,
// dropping the index of the record it supersedes.
//
//	KEYS[1] record key, KEYS[2] index key for the new id
//	ARGV[1] record JSON, ARGV[2] ttl ms, ARGV[3] account id, ARGV[4] index key prefix
var upsertChallengeLua = redis.NewScript(`
local prev = redis.call('GET', KEYS[1])
if prev then
  local stale = ARGV[4] .. cjson.decode(prev).id
  if stale ~= KEYS[2] then
    redis.call('DEL', stale)
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[2])
return 1
`)

// consumeChallengeLua is domain.Challenge.Attempt on the stored record.
//
//	KEYS[1] record key
//	ARGV[1] expected id, ARGV[2] now ms, ARGV[3] "1" when the code matched
//
// Returns {outcome, attempts_remaining}.
var consumeChallengeLua = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return {'not_found', 0}
end

local c = cjson.decode(raw)
if c.consumed or c.id ~= ARGV[1] then
  return {'not_found', 0}
end
if tonumber(ARGV[2]) >= c.expires_at then
  return {'expired', 0}
end
if c.attempts_remaining <= 0 then
  return {'exhausted', 0}
end

c.attempts_remaining = c.attempts_remaining - 1
local outcome = 'mismatch'
if ARGV[3] == '1' then
  c.consumed = true
  outcome = 'matched'
end
redis.call('SET', KEYS[1], cjson.encode(c), 'KEEPTTL')
return {outcome, c.attempts_remaining}
`)

var attemptOutcomes = map[string]domain.AttemptOutcome{
	"matched":   domain.AttemptMatched,
	"mismatch":  domain.AttemptMismatch,
	"not_found": domain.AttemptNotFound,
	"expired":   domain.AttemptExpired,
	"exhausted": domain.AttemptExhausted,
}

// Keys:
//
//	{prefix}:chal:{purpose}:{account}   JSON challenge record
//	{prefix}:chaltok:{purpose}:{id}     account id, so lookups by id stay O(1)
type challengesRepo struct{ s *Store }

func (r *challengesRepo) recordKey(purpose domain.ChallengePurpose, accountID string) string {
	return r.s.key("chal", string(purpose), accountID)
}

func (r *challengesRepo) indexKey(purpose domain.ChallengePurpose, id string) string {
	return r.s.key("chaltok", string(purpose), id)
}

func (r *challengesRepo) ttl(c domain.Challenge) time.Duration {
	ttl := c.ExpiresAt.Sub(c.CreatedAt)
	if ttl < 0 {
		ttl = 0
	}
	return ttl + r.s.opts.Retention
}

func (r *challengesRepo) UpsertChallenge(ctx context.Context, c domain.Challenge) error {
	data, err := json.Marshal(newChallengeRecord(c))
	if err != nil {
		return err
	}

	keys := []string{r.recordKey(c.Purpose, c.AccountID), r.indexKey(c.Purpose, c.ID)}
	return upsertChallengeLua.Run(ctx, r.s.rdb, keys,
		data, r.ttl(c).Milliseconds(), c.AccountID, r.indexKey(c.Purpose, ""),
	).Err()
}

func (r *challengesRepo) GetChallengeByID(ctx context.Context, purpose domain.ChallengePurpose, id string) (domain.Challenge, error) {
	accountID, err := r.s.rdb.Get(ctx, r.indexKey(purpose, id)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Challenge{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Challenge{}, err
	}

	c, err := r.GetChallengeByAccount(ctx, purpose, accountID)
	if err != nil {
		return domain.Challenge{}, err
	}
	// The index can briefly outlive a superseded record.
	if c.ID != id {
		return domain.Challenge{}, store.ErrNotFound
	}
	return c, nil
}

func (r *challengesRepo) GetChallengeByAccount(ctx context.Context, purpose domain.ChallengePurpose, accountID string) (domain.Challenge, error) {
	data, err := r.s.rdb.Get(ctx, r.recordKey(purpose, accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Challenge{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Challenge{}, err
	}

	rec, err := decode[challengeRecord](data)
	if err != nil {
		return domain.Challenge{}, err
	}
	return rec.challenge(), nil
}

func (r *challengesRepo) ConsumeChallenge(
	ctx context.Context,
	purpose domain.ChallengePurpose,
	accountID, id string,
	now time.Time,
	matched bool,
) (store.AttemptResult, error) {
	flag := "0"
	if matched {
		flag = "1"
	}

	reply, err := consumeChallengeLua.Run(ctx, r.s.rdb, []string{r.recordKey(purpose, accountID)},
		id, toMillis(now), flag,
	).Slice()
	if err != nil {
		return store.AttemptResult{}, err
	}
	if len(reply) != 2 {
		return store.AttemptResult{}, fmt.Errorf("redis: consume challenge: unexpected reply %v", reply)
	}

	name, _ := reply[0].(string)
	outcome, ok := attemptOutcomes[name]
	if !ok {
		return store.AttemptResult{}, fmt.Errorf("redis: consume challenge: unknown outcome %q", name)
	}
	remaining, _ := reply[1].(int64)
	return store.AttemptResult{Outcome: outcome, AttemptsRemaining: int(remaining)}, nil
}

// DeleteExpiredChallenges is a no-op; keys expire on their own.
func (r *challengesRepo) DeleteExpiredChallenges(context.Context, time.Time) (int64, error) {
	return 0, nil
}
