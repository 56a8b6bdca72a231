package domain

import (
	"errors"
	"time"
)

const (
	// SourceID identifies the vendor cloud in sync state rows.
	SourceID = "librelinkup"

	// SourceLabel tags every written sample with its origin device.
	SourceLabel = "Libre Cloud"

	// Credential vault keys.
	KeyUserEmail    = "userEmail"
	KeyUserPassword = "userPassword"
)

// GlucoseMolarMass is the molar mass of glucose in g/mol, the basis of the
// mg/dL to mmol/L unit definition used by the health store.
const GlucoseMolarMass = 180.15588

// mgPerDlPerMmolL is the fixed conversion divisor between the vendor unit
// (mg/dL) and the health-store unit (mmol/L).
const mgPerDlPerMmolL = 18.0

// MmolL converts a raw vendor glucose value in mg/dL to mmol/L.
func MmolL(valueMgPerDl float64) float64 {
	return valueMgPerDl / mgPerDlPerMmolL
}

// ErrMissingCredentials is returned when a sync is attempted with an empty
// email or password. No network call is made in that case.
var ErrMissingCredentials = errors.New("email and password are required")

// Credentials holds the vendor account secrets. Never logged.
type Credentials struct {
	Email    string
	Password string
}

// Session is the short-lived authenticated handle produced by one login call
// and consumed by exactly one fetch call. It is never persisted and never
// reused across sync attempts.
type Session struct {
	Token     string
	AccountID string
}

// Reading is one glucose measurement from the vendor cloud. ExternalID is
// the vendor timestamp string and serves as the natural dedup key.
type Reading struct {
	ExternalID   string
	ValueMgPerDl float64
	Timestamp    time.Time
}

// HealthSample is one converted reading as handed to the health sink.
// Writes are expected to be idempotent on DedupKey.
type HealthSample struct {
	ValueMmolL  float64   `json:"value_mmol_l"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	DedupKey    string    `json:"dedup_key"`
	SourceLabel string    `json:"source_label"`
}
