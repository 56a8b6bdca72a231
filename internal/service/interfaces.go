package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"glucosesync/internal/domain"
)

// RemoteClient speaks the vendor cloud protocol: one login, one fetch per
// sync attempt.
type RemoteClient interface {
	Login(ctx context.Context, email, password string) (domain.Session, error)
	FetchReadings(ctx context.Context, session domain.Session) ([]domain.Reading, error)
}

// HealthSink receives converted samples. Writes must be idempotent on the
// sample's dedup key.
type HealthSink interface {
	Write(ctx context.Context, sample domain.HealthSample) error
}

// SyncStateStore persists the last-sync high-water mark.
type SyncStateStore interface {
	Get(ctx context.Context, sourceID string) (*domain.SyncState, error)
	Update(ctx context.Context, state *domain.SyncState) error
}

// CredentialStore is the opaque secret vault. Get returns an empty value,
// not an error, for missing keys.
type CredentialStore interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
}

// Publisher forwards written samples to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, sample domain.HealthSample) error
	Close() error
}
