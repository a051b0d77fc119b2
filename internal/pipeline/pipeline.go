// Package pipeline drives the medallion stages: extract appends bronze
// snapshots, flatten derives silver hourly facts, rollup recomputes gold
// daily summaries. Stages are batch-oriented and gated by completion
// signals recorded in the stage run log; every stage is safe to re-run
// because the writers underneath are idempotent.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/weathermart/internal/flatten"
	"github.com/sells-group/weathermart/internal/model"
	"github.com/sells-group/weathermart/internal/partition"
	"github.com/sells-group/weathermart/internal/rollup"
	"github.com/sells-group/weathermart/internal/store"
	"github.com/sells-group/weathermart/internal/warehouse"
)

// RunLog records stage completion signals. warehouse.RunLog implements it
// against postgres; MemoryRunLog serves the sqlite backend and tests.
type RunLog interface {
	LastSuccess(ctx context.Context, stage string) (*time.Time, error)
	Start(ctx context.Context, stage string) (int64, error)
	Complete(ctx context.Context, runID int64, result *warehouse.StageResult) error
	Fail(ctx context.Context, runID int64, errMsg string) error
}

// Extractor fetches one raw snapshot per location from the upstream API.
type Extractor interface {
	Fetch(ctx context.Context, loc model.Location) (*model.RawSnapshot, error)
}

// Pipeline orchestrates the transform stages over one store.
type Pipeline struct {
	store         store.Store
	runLog        RunLog
	extractor     Extractor
	maxConcurrent int
}

// Options tunes pipeline behavior.
type Options struct {
	// MaxConcurrent bounds parallel rollup workers. Keys are independent;
	// within a key the storage upsert serializes writers.
	MaxConcurrent int
}

// New creates a Pipeline. extractor may be nil when only flatten/rollup run.
func New(st store.Store, runLog RunLog, extractor Extractor, opts Options) *Pipeline {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Pipeline{
		store:         st,
		runLog:        runLog,
		extractor:     extractor,
		maxConcurrent: maxConcurrent,
	}
}

// FlattenOpts selects which snapshots a flatten run covers.
type FlattenOpts struct {
	Filter store.SnapshotFilter
	// Incremental uses the stage's last successful run as the lower bound
	// when the filter has none. Backfills pass explicit bounds instead.
	Incremental bool
}

// FlattenResult is the flatten stage's completion signal payload.
type FlattenResult struct {
	Snapshots    int            `json:"snapshots"`
	Malformed    int            `json:"malformed"`
	Candidates   int64          `json:"candidates"`
	RowsWritten  int64          `json:"rows_written"`
	Discarded    int64          `json:"discarded"`
	AffectedDays []model.DayKey `json:"affected_days"`
}

// RunFlatten flattens the selected snapshots into hourly facts through the
// idempotent writer. Malformed snapshots are rejected whole and counted;
// they never halt the batch. Monthly partitions are ensured ahead of the
// writes so new facts land in materialized ranges.
func (p *Pipeline) RunFlatten(ctx context.Context, opts FlattenOpts) (*FlattenResult, error) {
	log := zap.L().With(zap.String("stage", warehouse.StageFlatten))

	filter := opts.Filter
	if opts.Incremental && filter.Since == nil {
		watermark, err := p.runLog.LastSuccess(ctx, warehouse.StageFlatten)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: flatten watermark")
		}
		filter.Since = watermark
	}

	runID, err := p.runLog.Start(ctx, warehouse.StageFlatten)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: start flatten run")
	}

	result, err := p.flattenBatch(ctx, filter)
	if err != nil {
		if logErr := p.runLog.Fail(ctx, runID, err.Error()); logErr != nil {
			log.Error("failed to record flatten failure", zap.Error(logErr))
		}
		return nil, err
	}

	if err := p.runLog.Complete(ctx, runID, &warehouse.StageResult{
		KeyCount:    int64(result.Snapshots),
		RowsWritten: result.RowsWritten,
		Metadata: map[string]any{
			"malformed":     result.Malformed,
			"candidates":    result.Candidates,
			"discarded":     result.Discarded,
			"affected_days": len(result.AffectedDays),
		},
	}); err != nil {
		log.Error("failed to record flatten completion", zap.Error(err))
	}

	log.Info("flatten complete",
		zap.Int("snapshots", result.Snapshots),
		zap.Int("malformed", result.Malformed),
		zap.Int64("rows_written", result.RowsWritten),
		zap.Int64("discarded", result.Discarded),
	)
	return result, nil
}

func (p *Pipeline) flattenBatch(ctx context.Context, filter store.SnapshotFilter) (*FlattenResult, error) {
	log := zap.L().With(zap.String("stage", warehouse.StageFlatten))

	snaps, err := p.store.ListSnapshots(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list snapshots")
	}

	result := &FlattenResult{}
	days := make(map[model.DayKey]struct{})
	now := time.Now().UTC()

	for i := range snaps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		snap := &snaps[i]
		facts, err := flatten.Snapshot(snap, now)
		if err != nil {
			if eris.Is(err, flatten.ErrMalformedSnapshot) {
				result.Malformed++
				log.Error("malformed snapshot rejected",
					zap.String("snapshot_id", snap.ID),
					zap.Error(err),
				)
				continue
			}
			return nil, eris.Wrapf(err, "pipeline: flatten snapshot %s", snap.ID)
		}

		if err := p.ensureRangesFor(ctx, facts); err != nil {
			return nil, err
		}

		written, err := p.store.WriteFacts(ctx, facts)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: write facts for snapshot %s", snap.ID)
		}

		result.Snapshots++
		result.Candidates += int64(len(facts))
		result.RowsWritten += written
		result.Discarded += int64(len(facts)) - written
		for j := range facts {
			days[facts[j].Day()] = struct{}{}
		}
	}

	result.AffectedDays = make([]model.DayKey, 0, len(days))
	for k := range days {
		result.AffectedDays = append(result.AffectedDays, k)
	}
	return result, nil
}

// ensureRangesFor pre-creates the monthly partitions covering a fact batch.
func (p *Pipeline) ensureRangesFor(ctx context.Context, facts []model.HourlyFact) error {
	seen := make(map[string]partition.Range)
	for i := range facts {
		r := partition.ForTimestamp("hourly_facts", facts[i].ObservationHour)
		seen[r.Name] = r
	}
	if len(seen) == 0 {
		return nil
	}
	ranges := make([]partition.Range, 0, len(seen))
	for _, r := range seen {
		ranges = append(ranges, r)
	}
	if _, err := p.store.EnsurePartitions(ctx, ranges); err != nil {
		return eris.Wrap(err, "pipeline: ensure partitions")
	}
	return nil
}

// RollupResult is the rollup stage's completion signal payload.
type RollupResult struct {
	Keys        int            `json:"keys"`
	RowsWritten int64          `json:"rows_written"`
	EmptyKeys   []model.DayKey `json:"empty_keys,omitempty"`
}

// RunRollup recomputes the daily summary for every given key from the facts
// currently stored, replacing any prior row. Keys are processed in parallel;
// a key with zero facts produces no row and is reported, not failed.
func (p *Pipeline) RunRollup(ctx context.Context, keys []model.DayKey) (*RollupResult, error) {
	log := zap.L().With(zap.String("stage", warehouse.StageRollup))

	runID, err := p.runLog.Start(ctx, warehouse.StageRollup)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: start rollup run")
	}

	result, err := p.rollupBatch(ctx, keys)
	if err != nil {
		if logErr := p.runLog.Fail(ctx, runID, err.Error()); logErr != nil {
			log.Error("failed to record rollup failure", zap.Error(logErr))
		}
		return nil, err
	}

	if err := p.runLog.Complete(ctx, runID, &warehouse.StageResult{
		KeyCount:    int64(result.Keys),
		RowsWritten: result.RowsWritten,
		Metadata: map[string]any{
			"empty_keys": len(result.EmptyKeys),
		},
	}); err != nil {
		log.Error("failed to record rollup completion", zap.Error(err))
	}

	log.Info("rollup complete",
		zap.Int("keys", result.Keys),
		zap.Int64("rows_written", result.RowsWritten),
		zap.Int("empty_keys", len(result.EmptyKeys)),
	)
	return result, nil
}

func (p *Pipeline) rollupBatch(ctx context.Context, keys []model.DayKey) (*RollupResult, error) {
	log := zap.L().With(zap.String("stage", warehouse.StageRollup))

	var mu sync.Mutex
	summaries := make([]model.DailySummary, 0, len(keys))
	var empty []model.DayKey
	now := time.Now().UTC()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrent)

	for _, key := range keys {
		g.Go(func() error {
			facts, err := p.store.FactsForDay(gctx, key)
			if err != nil {
				return err
			}

			summary, err := rollup.Summarize(key, facts, now)
			if err != nil {
				if eris.Is(err, rollup.ErrNoFacts) {
					log.Warn("rollup key has no facts; no summary produced",
						zap.String("location", key.LocationKey),
						zap.Time("date", key.Date),
					)
					mu.Lock()
					empty = append(empty, key)
					mu.Unlock()
					return nil
				}
				return err
			}

			mu.Lock()
			summaries = append(summaries, *summary)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: rollup")
	}

	written, err := p.store.UpsertDailySummaries(ctx, summaries)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: upsert summaries")
	}

	return &RollupResult{
		Keys:        len(keys),
		RowsWritten: written,
		EmptyKeys:   empty,
	}, nil
}

// ExtractResult is the extract stage's completion signal payload.
type ExtractResult struct {
	Locations   int   `json:"locations"`
	RowsWritten int64 `json:"rows_written"`
	Failed      int   `json:"failed"`
}

// RunExtract fetches one snapshot per configured location, appends it to the
// bronze tier, and re-observes the location dimension (the SCD2 upsert runs
// on every observation; unchanged attributes are a no-op).
func (p *Pipeline) RunExtract(ctx context.Context, locations []model.Location) (*ExtractResult, error) {
	if p.extractor == nil {
		return nil, eris.New("pipeline: no extractor configured")
	}
	log := zap.L().With(zap.String("stage", warehouse.StageExtract))

	runID, err := p.runLog.Start(ctx, warehouse.StageExtract)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: start extract run")
	}

	result := &ExtractResult{}
	now := time.Now().UTC()

	for _, loc := range locations {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		snap, err := p.extractor.Fetch(ctx, loc)
		if err != nil {
			result.Failed++
			log.Error("extract failed for location",
				zap.String("location", loc.NormalizedKey()),
				zap.Error(err),
			)
			continue
		}

		if err := p.store.InsertSnapshot(ctx, snap); err != nil {
			if logErr := p.runLog.Fail(ctx, runID, err.Error()); logErr != nil {
				log.Error("failed to record extract failure", zap.Error(logErr))
			}
			return nil, err
		}
		result.Locations++
		result.RowsWritten++

		// Re-observe the dimension with what the provider reported.
		observed := loc
		observed.Timezone = snap.Timezone
		observed.UTCOffsetSeconds = snap.UTCOffsetSeconds
		if _, _, err := p.store.UpsertLocation(ctx, observed, now); err != nil {
			log.Warn("location dimension upsert failed",
				zap.String("location", loc.NormalizedKey()),
				zap.Error(err),
			)
		}
	}

	if err := p.runLog.Complete(ctx, runID, &warehouse.StageResult{
		KeyCount:    int64(result.Locations),
		RowsWritten: result.RowsWritten,
		Metadata:    map[string]any{"failed": result.Failed},
	}); err != nil {
		log.Error("failed to record extract completion", zap.Error(err))
	}

	log.Info("extract complete",
		zap.Int("locations", result.Locations),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// RunBackfill re-runs flatten and rollup over a historical window. It may
// overlap a concurrent incremental run: both recompute the same summaries
// with the same answer, so no mutual exclusion is needed.
func (p *Pipeline) RunBackfill(ctx context.Context, start, end time.Time, locations []string) (*FlattenResult, *RollupResult, error) {
	flatRes, err := p.RunFlatten(ctx, FlattenOpts{
		Filter: store.SnapshotFilter{
			// An explicit window owns its start instant, unlike a watermark.
			Since:          &start,
			SinceInclusive: true,
			Until:          &end,
			Locations:      locations,
		},
	})
	if err != nil {
		return nil, nil, err
	}

	// Recompute every day in the window for the selected locations, not just
	// the days the flatten touched: a backfill is also the repair path for
	// summaries whose facts were corrected out of band.
	keys, err := p.backfillKeys(ctx, start, end, locations, flatRes.AffectedDays)
	if err != nil {
		return flatRes, nil, err
	}

	rollRes, err := p.RunRollup(ctx, keys)
	if err != nil {
		return flatRes, nil, err
	}
	return flatRes, rollRes, nil
}

func (p *Pipeline) backfillKeys(ctx context.Context, start, end time.Time, locations []string, affected []model.DayKey) ([]model.DayKey, error) {
	keys := make(map[model.DayKey]struct{})
	for _, k := range affected {
		keys[k] = struct{}{}
	}

	locs := locations
	if len(locs) == 0 {
		var err error
		locs, err = p.store.CurrentLocationKeys(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: backfill locations")
		}
	}

	startDay := time.Date(start.UTC().Year(), start.UTC().Month(), start.UTC().Day(), 0, 0, 0, 0, time.UTC)
	for d := startDay; !d.After(end.UTC()); d = d.AddDate(0, 0, 1) {
		for _, loc := range locs {
			keys[model.DayKey{LocationKey: loc, Date: d}] = struct{}{}
		}
	}

	out := make([]model.DayKey, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	return out, nil
}
