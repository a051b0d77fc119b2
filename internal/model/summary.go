package model

import "time"

// DailySummary is one gold-tier row per (date, location). The rollup
// aggregator replaces the whole row on every recompute; it is never patched
// column by column.
type DailySummary struct {
	ObservationDate     time.Time `json:"observation_date"`
	LocationKey         string    `json:"location_key"`
	TempAvg             *float64  `json:"temp_avg,omitempty"`
	TempMin             *float64  `json:"temp_min,omitempty"`
	TempMax             *float64  `json:"temp_max,omitempty"`
	ApparentTempAvg     *float64  `json:"apparent_temp_avg,omitempty"`
	HumidityAvg         *float64  `json:"humidity_avg,omitempty"`
	PrecipitationSum    *float64  `json:"precipitation_sum,omitempty"`
	RainSum             *float64  `json:"rain_sum,omitempty"`
	ShowersSum          *float64  `json:"showers_sum,omitempty"`
	SnowfallSum         *float64  `json:"snowfall_sum,omitempty"`
	WindSpeedAvg        *float64  `json:"wind_speed_avg,omitempty"`
	CloudCoverAvg       *float64  `json:"cloud_cover_avg,omitempty"`
	UVIndexMax          *float64  `json:"uv_index_max,omitempty"`
	DominantWeatherCode *int      `json:"dominant_weather_code,omitempty"`
	DaylightHours       int       `json:"daylight_hours"`
	RecordCount         int       `json:"record_count"`
	UpdatedAt           time.Time `json:"updated_at"`
}
