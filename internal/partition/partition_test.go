package partition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForTimestamp(t *testing.T) {
	r := ForTimestamp("hourly_facts", time.Date(2026, 8, 15, 13, 45, 0, 0, time.UTC))

	assert.Equal(t, "hourly_facts_y2026m08", r.Name)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), r.Start)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), r.End)
}

func TestForTimestamp_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("ICT", 7*3600)
	// 02:00 ICT on Sep 1 is still Aug 31 in UTC.
	r := ForTimestamp("hourly_facts", time.Date(2026, 9, 1, 2, 0, 0, 0, loc))

	assert.Equal(t, "hourly_facts_y2026m08", r.Name)
}

func TestForTimestamp_YearBoundary(t *testing.T) {
	r := ForTimestamp("hourly_facts", time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC))

	assert.Equal(t, "hourly_facts_y2026m12", r.Name)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), r.End)
}

func TestHorizon_ContiguousRanges(t *testing.T) {
	ranges := Horizon("hourly_facts", time.Date(2026, 11, 10, 0, 0, 0, 0, time.UTC), 4)
	require.Len(t, ranges, 4)

	assert.Equal(t, "hourly_facts_y2026m11", ranges[0].Name)
	assert.Equal(t, "hourly_facts_y2026m12", ranges[1].Name)
	assert.Equal(t, "hourly_facts_y2027m01", ranges[2].Name)
	assert.Equal(t, "hourly_facts_y2027m02", ranges[3].Name)

	for i := 1; i < len(ranges); i++ {
		assert.Equal(t, ranges[i-1].End, ranges[i].Start, "ranges must abut")
	}
}

func TestHorizon_AtLeastOneMonth(t *testing.T) {
	ranges := Horizon("hourly_facts", time.Now().UTC(), 0)
	assert.Len(t, ranges, 1)
}

func TestCovers(t *testing.T) {
	r := ForTimestamp("hourly_facts", time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))

	assert.True(t, r.Covers(r.Start), "lower bound is inclusive")
	assert.True(t, r.Covers(time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC)))
	assert.False(t, r.Covers(r.End), "upper bound is exclusive")
	assert.False(t, r.Covers(time.Date(2026, 7, 31, 23, 59, 0, 0, time.UTC)))
}
