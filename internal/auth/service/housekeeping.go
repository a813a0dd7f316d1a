package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
)

// Retention windows applied by HousekeepingService.
type Retention struct {
	// Revocations are kept this long after revocation. Once it exceeds the
	// refresh TTL every token a ledger row could match has expired.
	Revocations time.Duration

	// Challenges are kept this long past expiry so "expired" can still be
	// told apart from "unknown".
	Challenges time.Duration

	// Lockouts not touched for this long and not locked are dropped.
	Lockouts time.Duration

	// AuditEvents older than this are pruned.
	AuditEvents time.Duration
}

// HousekeepingService periodically cleans up expired records to prevent
// unbounded growth of refresh_tokens, revoked_families, challenges, lockouts
// and audit_events.
type HousekeepingService struct {
	Store     store.Store
	Ephemeral store.Ephemeral
	Logger    *slog.Logger
	Interval  time.Duration
	Retention Retention
	Now       func() time.Time

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(s store.Store, eph store.Ephemeral, logger *slog.Logger, interval time.Duration, retention Retention) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	if eph == nil {
		eph = s
	}

	return &HousekeepingService{
		Store:     s,
		Ephemeral: eph,
		Logger:    logger,
		Interval:  interval,
		Retention: retention,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background worker that periodically runs cleanup.
// This is non-blocking and should be called after the database is ready.
// Call Stop() to gracefully shutdown the worker.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping_started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress cleanup.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping_stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup performs one pass and returns the number of rows removed.
// Each deletion is independent; a failure in one does not stop the others.
// Refresh tokens are only removed after their natural expiry, so a replayed
// rotated token is still recognised until then.
func (s *HousekeepingService) Cleanup(ctx context.Context) int64 {
	now := nowFunc(s.Now)

	tasks := []struct {
		name string
		fn   func() (int64, error)
	}{
		{"refresh_tokens", func() (int64, error) {
			return s.Store.RefreshTokens().DeleteExpiredRefreshTokens(ctx, now)
		}},
		{"revoked_families", func() (int64, error) {
			return s.Store.Revocations().DeleteRevocationsBefore(ctx, now.Add(-s.Retention.Revocations))
		}},
		{"challenges", func() (int64, error) {
			return s.Ephemeral.Challenges().DeleteExpiredChallenges(ctx, now.Add(-s.Retention.Challenges))
		}},
		{"lockouts", func() (int64, error) {
			return s.Ephemeral.Lockouts().DeleteStaleLockouts(ctx, now.Add(-s.Retention.Lockouts))
		}},
		{"audit_events", func() (int64, error) {
			if s.Retention.AuditEvents <= 0 {
				return 0, nil
			}
			return s.Store.AuditEvents().DeleteAuditEventsBefore(ctx, now.Add(-s.Retention.AuditEvents))
		}},
	}

	var total int64
	for _, t := range tasks {
		n, err := t.fn()
		if err != nil {
			s.Logger.Error("housekeeping_cleanup_failed", "table", t.name, "error", err)
			continue
		}
		if n > 0 {
			s.Logger.Debug("housekeeping_deleted", "table", t.name, "rows", n)
		}
		total += n
	}

	s.Logger.Info("housekeeping_cleanup_completed", "deleted", total)
	return total
}
