package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"glucosesync/internal/domain"
)

// SampleStore persists converted glucose samples. Writes are idempotent on
// dedup_key: re-writing the same key never creates a duplicate record.
type SampleStore struct {
	db *sqlx.DB
}

func NewSampleStore(db *sqlx.DB) *SampleStore {
	return &SampleStore{db: db}
}

func (s *SampleStore) Write(ctx context.Context, sample domain.HealthSample) error {
	query := `
		INSERT INTO glucose_samples (dedup_key, value_mmol_l, start_at, end_at, source_label)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (dedup_key) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		sample.DedupKey,
		sample.ValueMmolL,
		sample.Start,
		sample.End,
		sample.SourceLabel,
	)
	return err
}
