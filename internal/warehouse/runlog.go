package warehouse

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/weathermart/internal/db"
)

// Stage names recorded in the run log.
const (
	StageExtract = "extract"
	StageFlatten = "flatten"
	StageRollup  = "rollup"
)

// StageRun is one row in weather.stage_runs: the completion signal a stage
// emits for the orchestration layer. KeyCount is the number of affected keys
// (snapshots for flatten, day/location keys for rollup).
type StageRun struct {
	ID          int64          `json:"id"`
	Stage       string         `json:"stage"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	KeyCount    int64          `json:"key_count"`
	RowsWritten int64          `json:"rows_written"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// StageResult holds the outcome of a stage run, passed to Complete().
type StageResult struct {
	KeyCount    int64          `json:"key_count"`
	RowsWritten int64          `json:"rows_written"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// RunLog provides read/write access to the weather.stage_runs table.
type RunLog struct {
	pool db.Pool
}

// NewRunLog creates a RunLog backed by the given connection pool.
func NewRunLog(pool db.Pool) *RunLog {
	return &RunLog{pool: pool}
}

// LastSuccess returns the started_at time of the most recent completed run
// for a stage. Returns nil if the stage has never completed. Used as the
// incremental watermark: a stage only needs snapshots newer than its last
// successful run.
func (l *RunLog) LastSuccess(ctx context.Context, stage string) (*time.Time, error) {
	var t time.Time
	err := l.pool.QueryRow(ctx,
		`SELECT started_at FROM weather.stage_runs
		 WHERE stage = $1 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		stage,
	).Scan(&t)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "runlog: last success for %s", stage)
	}
	return &t, nil
}

// Start records the beginning of a stage run and returns its ID.
func (l *RunLog) Start(ctx context.Context, stage string) (int64, error) {
	var id int64
	err := l.pool.QueryRow(ctx,
		`INSERT INTO weather.stage_runs (stage, status, started_at)
		 VALUES ($1, 'running', now()) RETURNING id`,
		stage,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "runlog: start run for %s", stage)
	}
	return id, nil
}

// Complete marks a stage run as successfully completed.
func (l *RunLog) Complete(ctx context.Context, runID int64, result *StageResult) error {
	var metaJSON []byte
	if result != nil && result.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(result.Metadata)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal metadata")
		}
	}

	var keyCount, rowsWritten int64
	if result != nil {
		keyCount = result.KeyCount
		rowsWritten = result.RowsWritten
	}

	_, err := l.pool.Exec(ctx,
		`UPDATE weather.stage_runs
		 SET status = 'complete', completed_at = now(), key_count = $1, rows_written = $2, metadata = $3
		 WHERE id = $4`,
		keyCount, rowsWritten, metaJSON, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %d", runID)
	}
	return nil
}

// Fail marks a stage run as failed with an error message.
func (l *RunLog) Fail(ctx context.Context, runID int64, errMsg string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE weather.stage_runs
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %d", runID)
	}
	return nil
}

// ListRecent returns up to limit runs ordered by most recent first.
func (l *RunLog) ListRecent(ctx context.Context, limit int) ([]StageRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, stage, status, started_at, completed_at, key_count, rows_written, error, metadata
		 FROM weather.stage_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list recent")
	}
	defer rows.Close()

	var runs []StageRun
	for rows.Next() {
		var r StageRun
		var completedAt *time.Time
		var errStr *string
		var metaJSON []byte
		if err := rows.Scan(&r.ID, &r.Stage, &r.Status, &r.StartedAt, &completedAt, &r.KeyCount, &r.RowsWritten, &errStr, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		r.CompletedAt = completedAt
		if errStr != nil {
			r.Error = *errStr
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &r.Metadata)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
