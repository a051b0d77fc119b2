package model

import "time"

// TimeKey is the payload key holding the hour timestamps that every metric
// sequence is index-aligned to.
const TimeKey = "time"

// HourlyPayload is the nested per-call payload: one ordered sequence per
// metric plus the shared "time" sequence. Values are kept loosely typed
// because providers disagree on numeric encoding; coercion happens in the
// flatten operator.
type HourlyPayload map[string][]any

// RawSnapshot is one bronze-tier record per extraction call. Append-only,
// never mutated after insert.
type RawSnapshot struct {
	ID               string        `json:"id"`
	LocationKey      string        `json:"location_key"`
	LocationName     string        `json:"location_name"`
	Latitude         float64       `json:"latitude"`
	Longitude        float64       `json:"longitude"`
	Timezone         string        `json:"timezone"`
	UTCOffsetSeconds int           `json:"utc_offset_seconds"`
	RetrievedAt      time.Time     `json:"retrieved_at"`
	ResponseMS       float64       `json:"response_ms"`
	Payload          HourlyPayload `json:"payload"`
	CreatedAt        time.Time     `json:"created_at"`
}

// HourCount returns the length of the snapshot's time sequence.
func (s *RawSnapshot) HourCount() int {
	return len(s.Payload[TimeKey])
}
