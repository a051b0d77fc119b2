package model

import (
	"strings"
	"time"
)

// OpenEnd is the sentinel upper bound of an open SCD2 validity interval.
// Half-open semantics: a version is valid for [EffectiveFrom, EffectiveTo).
var OpenEnd = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// Location holds the tracked attributes of a location as observed from
// configuration or an upstream response.
type Location struct {
	Key              string  `json:"key" yaml:"key"`
	Name             string  `json:"name" yaml:"name"`
	Latitude         float64 `json:"latitude" yaml:"latitude"`
	Longitude        float64 `json:"longitude" yaml:"longitude"`
	Timezone         string  `json:"timezone" yaml:"timezone"`
	UTCOffsetSeconds int     `json:"utc_offset_seconds" yaml:"utc_offset_seconds"`
}

// NormalizedKey returns the location's natural key, deriving one from the
// name when the config omits it.
func (l Location) NormalizedKey() string {
	if l.Key != "" {
		return l.Key
	}
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(l.Name), " ", "_"))
}

// LocationVersion is one SCD2 row: a location's attributes over a bounded
// validity interval. Exactly one version per natural key is current at any
// time; closed versions are immutable.
type LocationVersion struct {
	VersionKey    int64     `json:"version_key"`
	Location      Location  `json:"location"`
	EffectiveFrom time.Time `json:"effective_from"`
	EffectiveTo   time.Time `json:"effective_to"`
	IsCurrent     bool      `json:"is_current"`
}
