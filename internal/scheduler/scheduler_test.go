package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glucosesync/internal/domain"
)

type stubSyncer struct {
	mu    sync.Mutex
	calls []domain.Credentials
	delay time.Duration
	err   error
}

func (s *stubSyncer) RunSync(ctx context.Context, creds domain.Credentials) (*domain.SyncStats, error) {
	s.mu.Lock()
	s.calls = append(s.calls, creds)
	s.mu.Unlock()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return &domain.SyncStats{}, s.err
}

func (s *stubSyncer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type stubCreds map[string]string

func (c stubCreds) Get(_ context.Context, key string) (string, error) {
	return c[key], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func storedCreds() stubCreds {
	return stubCreds{
		domain.KeyUserEmail:    "user@example.com",
		domain.KeyUserPassword: "secret",
	}
}

func newTestScheduler(syncer Syncer, creds CredentialSource, interval, expiration time.Duration) (*Scheduler, chan FiringResult) {
	sched := New(syncer, creds, interval, expiration, testLogger())
	results := make(chan FiringResult, 8)
	sched.OnResult(func(r FiringResult) { results <- r })
	return sched, results
}

func waitForResult(t *testing.T, results chan FiringResult) FiringResult {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for firing result")
		return FiringResult{}
	}
}

func TestArm_IdempotentRearm(t *testing.T) {
	sched, _ := newTestScheduler(&stubSyncer{}, storedCreds(), time.Hour, time.Minute)
	defer sched.Stop()

	ctx := context.Background()
	sched.Arm(ctx, RefreshTaskID)
	sched.Arm(ctx, RefreshTaskID)

	// Exactly one pending request, never two.
	assert.True(t, sched.Pending(RefreshTaskID))
	sched.mu.Lock()
	assert.Len(t, sched.pending, 1)
	sched.mu.Unlock()
}

func TestStop_CancelsPending(t *testing.T) {
	sched, _ := newTestScheduler(&stubSyncer{}, storedCreds(), time.Hour, time.Minute)

	sched.Arm(context.Background(), RefreshTaskID)
	require.True(t, sched.Pending(RefreshTaskID))

	sched.Stop()
	assert.False(t, sched.Pending(RefreshTaskID))
}

func TestFiring_RunsSyncWithStoredCredentials(t *testing.T) {
	syncer := &stubSyncer{}
	sched, results := newTestScheduler(syncer, storedCreds(), 10*time.Millisecond, time.Second)
	defer sched.Stop()

	sched.Arm(context.Background(), RefreshTaskID)

	r := waitForResult(t, results)
	assert.True(t, r.Success)
	assert.Equal(t, RefreshTaskID, r.Identifier)

	syncer.mu.Lock()
	require.NotEmpty(t, syncer.calls)
	assert.Equal(t, "user@example.com", syncer.calls[0].Email)
	assert.Equal(t, "secret", syncer.calls[0].Password)
	syncer.mu.Unlock()

	// A fresh request was armed before the sync ran.
	assert.True(t, sched.Pending(RefreshTaskID))
}

func TestFiring_MissingCredentials(t *testing.T) {
	syncer := &stubSyncer{}
	sched, results := newTestScheduler(syncer, stubCreds{}, 10*time.Millisecond, time.Second)
	defer sched.Stop()

	sched.Arm(context.Background(), RefreshTaskID)

	r := waitForResult(t, results)
	assert.False(t, r.Success)
	assert.ErrorIs(t, r.Err, domain.ErrMissingCredentials)

	// No sync attempt was made without credentials.
	assert.Equal(t, 0, syncer.callCount())
}

func TestFiring_SyncErrorReportedAsFailure(t *testing.T) {
	syncer := &stubSyncer{err: errors.New("login refused")}
	sched, results := newTestScheduler(syncer, storedCreds(), 10*time.Millisecond, time.Second)
	defer sched.Stop()

	sched.Arm(context.Background(), RefreshTaskID)

	r := waitForResult(t, results)
	assert.False(t, r.Success)
	assert.ErrorIs(t, r.Err, syncer.err)
}

func TestRunFiring_ExpirationIsHardTimeout(t *testing.T) {
	syncer := &stubSyncer{delay: 300 * time.Millisecond}
	sched, _ := newTestScheduler(syncer, storedCreds(), time.Hour, 20*time.Millisecond)

	start := time.Now()
	r := sched.runFiring(context.Background(), RefreshTaskID)

	assert.False(t, r.Success)
	assert.ErrorIs(t, r.Err, ErrExpired)
	// Failure is reported at the deadline, not when the sync finishes.
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	// The sync was started and keeps running past the deadline; its late
	// completion is simply discarded.
	assert.Equal(t, 1, syncer.callCount())
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 1, syncer.callCount())
}

func TestStart_BlocksUntilCancelled(t *testing.T) {
	sched, _ := newTestScheduler(&stubSyncer{}, storedCreds(), time.Hour, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- sched.Start(ctx)
	}()

	// Start arms the recurring request.
	require.Eventually(t, func() bool {
		return sched.Pending(RefreshTaskID)
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancellation")
	}
	assert.False(t, sched.Pending(RefreshTaskID))
}
