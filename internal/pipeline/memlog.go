package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/weathermart/internal/warehouse"
)

// MemoryRunLog is an in-process RunLog for the sqlite backend and tests,
// where completion signals do not need to survive the process.
type MemoryRunLog struct {
	mu   sync.Mutex
	next int64
	runs map[int64]*warehouse.StageRun
}

// NewMemoryRunLog creates an empty in-memory run log.
func NewMemoryRunLog() *MemoryRunLog {
	return &MemoryRunLog{runs: make(map[int64]*warehouse.StageRun)}
}

func (m *MemoryRunLog) LastSuccess(_ context.Context, stage string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *time.Time
	for _, r := range m.runs {
		if r.Stage == stage && r.Status == "complete" {
			if latest == nil || r.StartedAt.After(*latest) {
				t := r.StartedAt
				latest = &t
			}
		}
	}
	return latest, nil
}

func (m *MemoryRunLog) Start(_ context.Context, stage string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	m.runs[m.next] = &warehouse.StageRun{
		ID:        m.next,
		Stage:     stage,
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}
	return m.next, nil
}

func (m *MemoryRunLog) Complete(_ context.Context, runID int64, result *warehouse.StageResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.runs[runID]; ok {
		now := time.Now().UTC()
		r.Status = "complete"
		r.CompletedAt = &now
		if result != nil {
			r.KeyCount = result.KeyCount
			r.RowsWritten = result.RowsWritten
			r.Metadata = result.Metadata
		}
	}
	return nil
}

func (m *MemoryRunLog) Fail(_ context.Context, runID int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.runs[runID]; ok {
		now := time.Now().UTC()
		r.Status = "failed"
		r.CompletedAt = &now
		r.Error = errMsg
	}
	return nil
}

// Runs returns a snapshot of all recorded runs.
func (m *MemoryRunLog) Runs() []warehouse.StageRun {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]warehouse.StageRun, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, *r)
	}
	return out
}
