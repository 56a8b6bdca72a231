package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"glucosesync/internal/domain"
)

// RefreshTaskID identifies the recurring background sync request. At most
// one request with this identifier is ever pending.
const RefreshTaskID = "glucosesync.refresh"

// ErrExpired marks a firing that hit its expiration deadline before the
// sync reported back.
var ErrExpired = errors.New("firing expired before sync completed")

// Syncer runs one end-to-end sync attempt.
type Syncer interface {
	RunSync(ctx context.Context, creds domain.Credentials) (*domain.SyncStats, error)
}

// CredentialSource provides the stored account secrets; there is no
// interactive caller at trigger time.
type CredentialSource interface {
	Get(ctx context.Context, key string) (string, error)
}

// FiringResult is the outcome of one background firing.
type FiringResult struct {
	Identifier string
	Success    bool
	Err        error
}

// Scheduler drives the sync on a repeating, cancellable, time-boxed
// background trigger. Each firing re-arms the next one before running, so a
// hung or slow sync never suppresses the following cycle.
type Scheduler struct {
	syncer     Syncer
	creds      CredentialSource
	interval   time.Duration
	expiration time.Duration
	logger     *slog.Logger
	onResult   func(FiringResult) // optional hook, called after every firing

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func New(syncer Syncer, creds CredentialSource, interval, expiration time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		syncer:     syncer,
		creds:      creds,
		interval:   interval,
		expiration: expiration,
		logger:     logger,
		pending:    make(map[string]*time.Timer),
	}
}

// OnResult registers a hook invoked with every firing outcome.
func (s *Scheduler) OnResult(fn func(FiringResult)) {
	s.onResult = fn
}

// Start arms the first request and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"identifier", RefreshTaskID,
		"interval", s.interval,
		"expiration", s.expiration,
	)

	s.Arm(ctx, RefreshTaskID)

	<-ctx.Done()
	s.Stop()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

// Arm schedules a firing after the configured interval. Any pending request
// with the same identifier is cancelled first, so re-arming is idempotent
// and duplicate concurrent firings cannot occur.
func (s *Scheduler) Arm(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.pending[id]; ok {
		timer.Stop()
	}
	s.pending[id] = time.AfterFunc(s.interval, func() {
		s.fire(ctx, id)
	})
}

// Stop cancels all pending requests. In-flight firings are unaffected.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, timer := range s.pending {
		timer.Stop()
		delete(s.pending, id)
	}
}

// Pending reports whether a request with the given identifier is armed.
func (s *Scheduler) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

func (s *Scheduler) fire(ctx context.Context, id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()

	// Re-arm before running so the next cycle survives a hung sync.
	s.Arm(ctx, id)

	result := s.runFiring(ctx, id)
	if result.Success {
		s.logger.Info("background sync completed", "identifier", id)
	} else {
		s.logger.Error("background sync failed", "identifier", id, "error", result.Err)
	}
	if s.onResult != nil {
		s.onResult(result)
	}
}

// runFiring executes one time-boxed firing. The expiration deadline is
// advisory-forceful: when it passes, the firing is reported failed while any
// in-flight network calls and writes keep running in the background; their
// eventual outcome is discarded.
func (s *Scheduler) runFiring(ctx context.Context, id string) FiringResult {
	email, err := s.creds.Get(ctx, domain.KeyUserEmail)
	if err != nil {
		return FiringResult{Identifier: id, Err: err}
	}
	password, err := s.creds.Get(ctx, domain.KeyUserPassword)
	if err != nil {
		return FiringResult{Identifier: id, Err: err}
	}
	if email == "" || password == "" {
		return FiringResult{Identifier: id, Err: domain.ErrMissingCredentials}
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.syncer.RunSync(ctx, domain.Credentials{Email: email, Password: password})
		done <- err
	}()

	expire := time.NewTimer(s.expiration)
	defer expire.Stop()

	select {
	case err := <-done:
		return FiringResult{Identifier: id, Success: err == nil, Err: err}
	case <-expire.C:
		return FiringResult{Identifier: id, Err: ErrExpired}
	case <-ctx.Done():
		return FiringResult{Identifier: id, Err: ctx.Err()}
	}
}
