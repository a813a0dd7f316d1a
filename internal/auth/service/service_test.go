package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/gatekeeper/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer = "https://auth.test"
	testSecret = "correct horse battery staple"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// captureNotifier records every notification instead of delivering it.
type captureNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (n *captureNotifier) Notify(_ context.Context, msg domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *captureNotifier) all() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Notification(nil), n.sent...)
}

// recordingAudit captures audit events on top of the real store.
type recordingAudit struct {
	store.AuditEvents

	mu     sync.Mutex
	events []domain.AuditEvent
}

func (a *recordingAudit) RecordAuditEvent(ctx context.Context, e domain.AuditEvent) error {
	a.mu.Lock()
	a.events = append(a.events, e)
	a.mu.Unlock()
	return a.AuditEvents.RecordAuditEvent(ctx, e)
}

// accounts maps each event to "action:account_id", with "-" for none.
func (a *recordingAudit) accounts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, e := range a.events {
		id := "-"
		if e.AccountID != nil {
			id = *e.AccountID
		}
		out = append(out, string(e.Action)+":"+id)
	}
	return out
}

func (a *recordingAudit) outcomes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, string(e.Action)+":"+e.Outcome)
	}
	return out
}

type testEnv struct {
	clock    *testClock
	store    *sqlite.Store
	notifier *captureNotifier
	audit    *recordingAudit
	keys     *jwtx.KeyManager
	sealer   *cryptox.Sealer

	lockout     *LockoutTracker
	credentials *CredentialVerifier
	tokens      *TokenService
	twoFactor   *TwoFactorManager
	reset       *PasswordResetManager
	auth        *AuthService
	accounts    *AccountService
	mfa         *MFAService

	// nextCode is what the code generators hand out.
	nextCode string
}

func fastHasher() *cryptox.Argon2Hasher {
	return &cryptox.Argon2Hasher{
		Params: cryptox.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, KeyLength: 32, SaltLength: 16},
		Pepper: "test-pepper",
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	clock := newTestClock()

	keys, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{Issuer: testIssuer, Now: clock.Now})
	require.NoError(t, err)

	sealer, err := cryptox.NewSealer([]byte("test-master-key"))
	require.NoError(t, err)

	env := &testEnv{
		clock:    clock,
		store:    st,
		notifier: &captureNotifier{},
		audit:    &recordingAudit{AuditEvents: st.AuditEvents()},
		keys:     keys,
		sealer:   sealer,
		nextCode: "123456",
	}
	gen := func() (string, error) { return env.nextCode, nil }
	hasher := fastHasher()

	env.lockout = &LockoutTracker{Lockouts: st.Lockouts(), Policy: DefaultLockoutPolicy(), Now: clock.Now}
	env.credentials = &CredentialVerifier{Accounts: st.Accounts(), Lockout: env.lockout, Hasher: hasher, Now: clock.Now}
	env.tokens = &TokenService{
		KeyManager: keys,
		Store:      st,
		Issuer:     testIssuer,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Now:        clock.Now,
	}
	env.twoFactor = &TwoFactorManager{
		Challenges:   st.Challenges(),
		Accounts:     st.Accounts(),
		Tokens:       env.tokens,
		Notifier:     env.notifier,
		Sealer:       sealer,
		Now:          clock.Now,
		GenerateCode: gen,
	}
	env.reset = &PasswordResetManager{
		Accounts:     st.Accounts(),
		Challenges:   st.Challenges(),
		Credentials:  env.credentials,
		Lockout:      env.lockout,
		Tokens:       env.tokens,
		Notifier:     env.notifier,
		Now:          clock.Now,
		GenerateCode: gen,
	}
	env.auth = &AuthService{
		Credentials: env.credentials,
		TwoFactor:   env.twoFactor,
		Tokens:      env.tokens,
		Reset:       env.reset,
		Audit:       env.audit,
		Now:         clock.Now,
	}
	env.accounts = &AccountService{Accounts: st.Accounts(), Hasher: hasher, Tokens: env.tokens, Now: clock.Now}
	env.mfa = &MFAService{Accounts: st.Accounts(), Sealer: sealer, Issuer: "gatekeeper", Now: clock.Now}

	return env
}

func (e *testEnv) createAccount(t *testing.T, username, email string, twoFactor bool) domain.Account {
	t.Helper()

	acct, err := e.accounts.CreateAccount(context.Background(), NewAccount{
		Username:  username,
		Email:     email,
		Secret:    testSecret,
		TwoFactor: twoFactor,
	})
	require.NoError(t, err)
	return acct
}

func (e *testEnv) challenge(t *testing.T, purpose domain.ChallengePurpose, accountID string) domain.Challenge {
	t.Helper()

	c, err := e.store.Challenges().GetChallengeByAccount(context.Background(), purpose, accountID)
	require.NoError(t, err)
	return c
}
