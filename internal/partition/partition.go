// Package partition computes the bounded monthly storage ranges the fact
// table is split into. Creation is delegated to the store; this package owns
// the boundary math so both backends agree on range identity.
package partition

import (
	"fmt"
	"time"
)

// Range is one half-open [Start, End) monthly sub-range of a partitioned
// table. Ranges for a table are contiguous and non-overlapping; a default
// catch-all partition absorbs timestamps outside every explicit range so no
// write is ever rejected.
type Range struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ForTimestamp returns the monthly range covering ts.
func ForTimestamp(table string, ts time.Time) Range {
	ts = ts.UTC()
	start := time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return Range{
		Name:  fmt.Sprintf("%s_y%04dm%02d", table, start.Year(), int(start.Month())),
		Start: start,
		End:   end,
	}
}

// Horizon returns the ranges covering [from's month, from's month + months),
// in chronological order. months <= 0 yields just from's month.
func Horizon(table string, from time.Time, months int) []Range {
	if months < 1 {
		months = 1
	}
	ranges := make([]Range, 0, months)
	cur := ForTimestamp(table, from)
	for i := 0; i < months; i++ {
		ranges = append(ranges, cur)
		cur = ForTimestamp(table, cur.End)
	}
	return ranges
}

// Covers reports whether ts falls inside the range.
func (r Range) Covers(ts time.Time) bool {
	ts = ts.UTC()
	return !ts.Before(r.Start) && ts.Before(r.End)
}
