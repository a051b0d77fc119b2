// Package scd implements the slowly-changing-dimension (type 2) transition
// rules for location metadata. The store applies the transitions; the rules
// here stay pure so they are testable without a database.
package scd

import (
	"time"

	"github.com/sells-group/weathermart/internal/model"
)

// Changed reports whether any tracked attribute differs between the current
// version and a new observation. When nothing changed the upsert is a no-op:
// it must not open a new version merely because it was invoked.
func Changed(current, observed model.Location) bool {
	return current.Name != observed.Name ||
		current.Latitude != observed.Latitude ||
		current.Longitude != observed.Longitude ||
		current.Timezone != observed.Timezone ||
		current.UTCOffsetSeconds != observed.UTCOffsetSeconds
}

// OpenVersion builds the open-ended current version for a first observation
// or for the replacement opened after a close. Validity is half-open:
// [from, model.OpenEnd).
func OpenVersion(loc model.Location, from time.Time) model.LocationVersion {
	loc.Key = loc.NormalizedKey()
	return model.LocationVersion{
		Location:      loc,
		EffectiveFrom: from.UTC(),
		EffectiveTo:   model.OpenEnd,
		IsCurrent:     true,
	}
}

// CloseVersion returns the closed copy of a current version. Closed versions
// are immutable; the caller persists this alongside the replacement from
// OpenVersion so the close/open transition commits atomically.
func CloseVersion(v model.LocationVersion, at time.Time) model.LocationVersion {
	v.EffectiveTo = at.UTC()
	v.IsCurrent = false
	return v
}
