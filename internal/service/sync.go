package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"glucosesync/internal/domain"
)

// SyncService runs one end-to-end sync attempt: login, fetch, convert,
// fan-out writes, persist the last-sync mark. Overlapping calls are allowed;
// each opens its own session and the sink deduplicates by external id.
type SyncService struct {
	client      RemoteClient
	sink        HealthSink
	syncState   SyncStateStore
	publisher   Publisher // optional, may be nil
	logger      *slog.Logger
	sourceLabel string
}

func NewSyncService(
	client RemoteClient,
	sink HealthSink,
	syncState SyncStateStore,
	publisher Publisher,
	logger *slog.Logger,
	sourceLabel string,
) *SyncService {
	if sourceLabel == "" {
		sourceLabel = domain.SourceLabel
	}
	return &SyncService{
		client:      client,
		sink:        sink,
		syncState:   syncState,
		publisher:   publisher,
		logger:      logger.With("source", domain.SourceID),
		sourceLabel: sourceLabel,
	}
}

// RunSync performs one sync attempt.
//
// A login failure aborts the attempt and is returned to the caller. A fetch
// failure is soft: it is logged and the attempt still reports completion,
// leaving the sync state untouched. Individual write failures are logged and
// counted but never fail the attempt. The method does not return until every
// submitted write has settled.
func (s *SyncService) RunSync(ctx context.Context, creds domain.Credentials) (*domain.SyncStats, error) {
	startTime := time.Now()

	if creds.Email == "" || creds.Password == "" {
		return nil, domain.ErrMissingCredentials
	}

	s.logger.Info("starting sync")

	session, err := s.client.Login(ctx, creds.Email, creds.Password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	stats := &domain.SyncStats{}

	readings, err := s.client.FetchReadings(ctx, session)
	if err != nil {
		// Fetch failures do not fail the attempt; the next trigger starts
		// a fresh login+fetch cycle anyway.
		s.logger.Error("fetch readings failed", "error", err)
		stats.Duration = time.Since(startTime)
		return stats, nil
	}

	stats.Fetched = len(readings)
	s.logger.Info("fetched readings", "count", len(readings))

	var written, writeErrors, published atomic.Int64
	var wg sync.WaitGroup
	for _, reading := range readings {
		wg.Add(1)
		go func(r domain.Reading) {
			defer wg.Done()

			sample := domain.HealthSample{
				ValueMmolL:  domain.MmolL(r.ValueMgPerDl),
				Start:       r.Timestamp,
				End:         r.Timestamp,
				DedupKey:    r.ExternalID,
				SourceLabel: s.sourceLabel,
			}

			if err := s.sink.Write(ctx, sample); err != nil {
				s.logger.Error("write sample failed",
					"dedup_key", r.ExternalID,
					"error", err,
				)
				writeErrors.Add(1)
				return
			}
			written.Add(1)

			if s.publisher != nil {
				if err := s.publisher.Publish(ctx, sample); err != nil {
					s.logger.Error("publish sample failed",
						"dedup_key", r.ExternalID,
						"error", err,
					)
				} else {
					published.Add(1)
				}
			}
		}(reading)
	}
	wg.Wait()

	stats.Written = int(written.Load())
	stats.WriteErrors = int(writeErrors.Load())
	stats.Published = int(published.Load())

	if err := s.updateSyncState(ctx, stats); err != nil {
		return stats, fmt.Errorf("update sync state: %w", err)
	}

	stats.Duration = time.Since(startTime)

	s.logger.Info("sync completed",
		"fetched", stats.Fetched,
		"written", stats.Written,
		"write_errors", stats.WriteErrors,
		"published", stats.Published,
		"duration", stats.Duration,
	)

	return stats, nil
}

func (s *SyncService) updateSyncState(ctx context.Context, stats *domain.SyncStats) error {
	state, err := s.syncState.Get(ctx, domain.SourceID)
	if err != nil {
		return err
	}

	state.SourceID = domain.SourceID
	state.LastSyncedAt = time.Now()
	state.TotalSynced += int64(stats.Written)

	return s.syncState.Update(ctx, state)
}
