// Package store persists the weather warehouse tiers. The postgres backend
// is the production warehouse; the sqlite backend serves local runs and
// tests. Both enforce the same uniqueness invariants, so the pipeline's
// idempotency never depends on which backend is configured.
package store

import (
	"context"
	"time"

	"github.com/sells-group/weathermart/internal/model"
	"github.com/sells-group/weathermart/internal/partition"
)

// SnapshotFilter selects bronze snapshots for a flatten run. Zero-value
// bounds are open; an empty location list means all locations.
//
// Since is exclusive by default, matching the incremental watermark: the run
// that set the watermark already covered that instant. SinceInclusive widens
// it to >= for explicit windows, where a snapshot created exactly at the
// window start belongs inside.
type SnapshotFilter struct {
	Since          *time.Time `json:"since,omitempty"`
	SinceInclusive bool       `json:"since_inclusive,omitempty"`
	Until          *time.Time `json:"until,omitempty"`
	Locations      []string   `json:"locations,omitempty"`
}

// Store defines the persistence interface for the rollup pipeline.
type Store interface {
	// Bronze tier (append-only).
	InsertSnapshot(ctx context.Context, snap *model.RawSnapshot) error
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.RawSnapshot, error)

	// Silver tier. WriteFacts is the idempotent fact writer: facts whose
	// (location_key, observation_hour) already exists are discarded, and the
	// returned count covers only rows actually written.
	WriteFacts(ctx context.Context, facts []model.HourlyFact) (int64, error)
	FactsForDay(ctx context.Context, key model.DayKey) ([]model.HourlyFact, error)

	// Gold tier. UpsertDailySummaries is a merge-upsert: insert new keys,
	// fully replace existing ones.
	UpsertDailySummaries(ctx context.Context, summaries []model.DailySummary) (int64, error)
	GetDailySummary(ctx context.Context, key model.DayKey) (*model.DailySummary, error)

	// Location dimension (SCD2). UpsertLocation returns the version key in
	// effect after the call and whether a new version was opened.
	UpsertLocation(ctx context.Context, loc model.Location, now time.Time) (int64, bool, error)
	CurrentLocation(ctx context.Context, locationKey string) (*model.LocationVersion, error)
	CurrentLocationKeys(ctx context.Context) ([]string, error)

	// Partition lifecycle. EnsurePartitions is an idempotent create-if-missing
	// over the given ranges and returns how many were newly created.
	// UnpartitionedFactCount reports facts sitting in the catch-all range.
	EnsurePartitions(ctx context.Context, ranges []partition.Range) (int, error)
	UnpartitionedFactCount(ctx context.Context) (int64, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
