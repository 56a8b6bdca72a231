//go:build integration

package postgres

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"glucosesync/internal/domain"
)

const testSecret = "integration-test-secret"

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_init.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM credentials")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM sync_state")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM glucose_samples")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func (s *PostgresIntegrationSuite) newCredStore() *CredentialStore {
	store, err := NewCredentialStore(s.db, testSecret)
	s.Require().NoError(err)
	return store
}

func (s *PostgresIntegrationSuite) TestCredentialStore_SetGet() {
	store := s.newCredStore()

	err := store.Set(s.ctx, domain.KeyUserEmail, "user@example.com")
	s.NoError(err)

	value, err := store.Get(s.ctx, domain.KeyUserEmail)
	s.NoError(err)
	s.Equal("user@example.com", value)
}

func (s *PostgresIntegrationSuite) TestCredentialStore_GetMissing() {
	store := s.newCredStore()

	value, err := store.Get(s.ctx, "unknown-key")
	s.NoError(err)
	s.Empty(value)
}

func (s *PostgresIntegrationSuite) TestCredentialStore_OverwriteReplaces() {
	store := s.newCredStore()

	s.NoError(store.Set(s.ctx, domain.KeyUserPassword, "old-password"))
	s.NoError(store.Set(s.ctx, domain.KeyUserPassword, "new-password"))

	value, err := store.Get(s.ctx, domain.KeyUserPassword)
	s.NoError(err)
	s.Equal("new-password", value)

	// Replace, not append: the old value is gone.
	var count int
	err = s.db.GetContext(s.ctx, &count,
		"SELECT COUNT(*) FROM credentials WHERE key = $1", domain.KeyUserPassword)
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestCredentialStore_EncryptedAtRest() {
	store := s.newCredStore()

	s.NoError(store.Set(s.ctx, domain.KeyUserPassword, "super-secret"))

	var raw string
	err := s.db.GetContext(s.ctx, &raw,
		"SELECT value FROM credentials WHERE key = $1", domain.KeyUserPassword)
	s.NoError(err)
	s.NotContains(raw, "super-secret")
}

func (s *PostgresIntegrationSuite) TestCredentialStore_WrongSecretCannotRead() {
	store := s.newCredStore()
	s.NoError(store.Set(s.ctx, domain.KeyUserEmail, "user@example.com"))

	other, err := NewCredentialStore(s.db, "a different secret")
	s.Require().NoError(err)

	_, err = other.Get(s.ctx, domain.KeyUserEmail)
	s.Error(err)
}

func (s *PostgresIntegrationSuite) TestSyncStateStore_GetNew() {
	store := NewSyncStateStore(s.db)

	state, err := store.Get(s.ctx, domain.SourceID)
	s.NoError(err)
	s.NotNil(state)
	s.Equal(domain.SourceID, state.SourceID)
	s.True(state.LastSyncedAt.IsZero())
	s.Equal(int64(0), state.TotalSynced)
}

func (s *PostgresIntegrationSuite) TestSyncStateStore_UpdateAndGet() {
	store := NewSyncStateStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	state := &domain.SyncState{
		SourceID:     domain.SourceID,
		LastSyncedAt: now,
		TotalSynced:  288,
	}
	err := store.Update(s.ctx, state)
	s.NoError(err)

	retrieved, err := store.Get(s.ctx, domain.SourceID)
	s.NoError(err)
	s.Equal(domain.SourceID, retrieved.SourceID)
	s.Equal(int64(288), retrieved.TotalSynced)
	s.WithinDuration(now, retrieved.LastSyncedAt, time.Second)
}

func (s *PostgresIntegrationSuite) TestSyncStateStore_UpdateExisting() {
	store := NewSyncStateStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	state := &domain.SyncState{
		SourceID:     domain.SourceID,
		LastSyncedAt: now,
		TotalSynced:  10,
	}
	s.NoError(store.Update(s.ctx, state))

	state.LastSyncedAt = now.Add(time.Hour)
	state.TotalSynced = 20
	s.NoError(store.Update(s.ctx, state))

	retrieved, err := store.Get(s.ctx, domain.SourceID)
	s.NoError(err)
	s.Equal(int64(20), retrieved.TotalSynced)
	s.WithinDuration(now.Add(time.Hour), retrieved.LastSyncedAt, time.Second)
}

func (s *PostgresIntegrationSuite) TestSampleStore_Write() {
	store := NewSampleStore(s.db)
	start := time.Now().Truncate(time.Microsecond)

	sample := domain.HealthSample{
		ValueMmolL:  7.0,
		Start:       start,
		End:         start,
		DedupKey:    "6/1/2024 8:00:00 AM",
		SourceLabel: domain.SourceLabel,
	}

	err := store.Write(s.ctx, sample)
	s.NoError(err)

	var count int
	err = s.db.GetContext(s.ctx, &count,
		"SELECT COUNT(*) FROM glucose_samples WHERE dedup_key = $1", sample.DedupKey)
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestSampleStore_IdempotentOnDedupKey() {
	store := NewSampleStore(s.db)
	start := time.Now().Truncate(time.Microsecond)

	sample := domain.HealthSample{
		ValueMmolL:  7.0,
		Start:       start,
		End:         start,
		DedupKey:    "6/1/2024 8:00:00 AM",
		SourceLabel: domain.SourceLabel,
	}
	s.NoError(store.Write(s.ctx, sample))

	// Re-writing the same dedup key neither errors nor duplicates nor
	// alters the stored value.
	sample.ValueMmolL = 9.9
	s.NoError(store.Write(s.ctx, sample))

	var count int
	err := s.db.GetContext(s.ctx, &count,
		"SELECT COUNT(*) FROM glucose_samples WHERE dedup_key = $1", sample.DedupKey)
	s.NoError(err)
	s.Equal(1, count)

	var value float64
	err = s.db.GetContext(s.ctx, &value,
		"SELECT value_mmol_l FROM glucose_samples WHERE dedup_key = $1", sample.DedupKey)
	s.NoError(err)
	s.Equal(7.0, value)
}

func (s *PostgresIntegrationSuite) TestTransaction_CommitsCredentialPair() {
	tm := NewTransactionManager(s.db)
	store := s.newCredStore()

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if err := store.Set(ctx, domain.KeyUserEmail, "user@example.com"); err != nil {
			return err
		}
		return store.Set(ctx, domain.KeyUserPassword, "secret")
	})
	s.NoError(err)

	email, err := store.Get(s.ctx, domain.KeyUserEmail)
	s.NoError(err)
	s.Equal("user@example.com", email)

	password, err := store.Get(s.ctx, domain.KeyUserPassword)
	s.NoError(err)
	s.Equal("secret", password)
}

func (s *PostgresIntegrationSuite) TestTransaction_RollbackLeavesPairUntouched() {
	tm := NewTransactionManager(s.db)
	store := s.newCredStore()

	s.NoError(store.Set(s.ctx, domain.KeyUserEmail, "old@example.com"))
	s.NoError(store.Set(s.ctx, domain.KeyUserPassword, "old-password"))

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if err := store.Set(ctx, domain.KeyUserEmail, "new@example.com"); err != nil {
			return err
		}
		return context.Canceled
	})
	s.Error(err)

	email, err := store.Get(s.ctx, domain.KeyUserEmail)
	s.NoError(err)
	s.Equal("old@example.com", email)

	password, err := store.Get(s.ctx, domain.KeyUserPassword)
	s.NoError(err)
	s.Equal("old-password", password)
}
