package model

import "time"

// HourlyFact is one silver-tier row per (location, hour). Facts are immutable
// once committed: the writer discards duplicates instead of overwriting.
type HourlyFact struct {
	LocationKey       string    `json:"location_key"`
	ObservationHour   time.Time `json:"observation_hour"`
	Temperature       *float64  `json:"temperature_2m,omitempty"`
	ApparentTemp      *float64  `json:"apparent_temperature,omitempty"`
	RelativeHumidity  *float64  `json:"relative_humidity_2m,omitempty"`
	Precipitation     *float64  `json:"precipitation,omitempty"`
	Rain              *float64  `json:"rain,omitempty"`
	Showers           *float64  `json:"showers,omitempty"`
	Snowfall          *float64  `json:"snowfall,omitempty"`
	WeatherCode       *int      `json:"weather_code,omitempty"`
	WindSpeed         *float64  `json:"wind_speed_10m,omitempty"`
	CloudCover        *float64  `json:"cloud_cover,omitempty"`
	UVIndex           *float64  `json:"uv_index,omitempty"`
	IsDay             *bool     `json:"is_day,omitempty"`
	QualityFlags      []string  `json:"quality_flags,omitempty"`
	SourceSnapshotID  string    `json:"source_snapshot_id"`
	ProcessedAt       time.Time `json:"processed_at"`
}

// DayKey identifies the daily summary a fact contributes to.
type DayKey struct {
	LocationKey string    `json:"location_key"`
	Date        time.Time `json:"date"` // midnight UTC
}

// Day returns the fact's rollup key.
func (f *HourlyFact) Day() DayKey {
	h := f.ObservationHour.UTC()
	return DayKey{
		LocationKey: f.LocationKey,
		Date:        time.Date(h.Year(), h.Month(), h.Day(), 0, 0, 0, 0, time.UTC),
	}
}
