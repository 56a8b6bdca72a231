package domain

import "time"

// SyncState is the persisted high-water mark for one source. It is only ever
// read back for display; fetches always cover the vendor's fixed recent
// window and are never filtered by it.
type SyncState struct {
	SourceID     string    `db:"source_id"`
	LastSyncedAt time.Time `db:"last_synced_at"`
	TotalSynced  int64     `db:"total_synced"`
}

// SyncStats holds statistics about one sync attempt.
type SyncStats struct {
	Fetched     int           `json:"fetched"`
	Written     int           `json:"written"`
	WriteErrors int           `json:"write_errors"`
	Published   int           `json:"published"`
	Duration    time.Duration `json:"duration"`
}
