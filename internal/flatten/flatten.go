// Package flatten turns nested per-call weather snapshots into individually
// addressable hourly facts. All metric sequences in a snapshot are parallel
// arrays index-aligned to the shared time sequence, so alignment is by
// ordinal position, never by timestamp matching.
package flatten

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/weathermart/internal/model"
)

// ErrMalformedSnapshot marks a snapshot whose metric arrays disagree with the
// time array length. The whole snapshot is rejected: partial ordinal
// correlation would silently misalign facts.
var ErrMalformedSnapshot = eris.New("flatten: malformed snapshot")

// hourLayout is Open-Meteo's hourly timestamp format (no zone suffix, UTC).
const hourLayout = "2006-01-02T15:04"

// Metrics tracked on the hourly fact, in payload order. Metrics absent from
// a payload are optional and null out; present metrics must match the time
// array length.
var trackedMetrics = []string{
	"temperature_2m",
	"apparent_temperature",
	"relative_humidity_2m",
	"precipitation",
	"rain",
	"showers",
	"snowfall",
	"weather_code",
	"wind_speed_10m",
	"cloud_cover",
	"uv_index",
	"is_day",
}

// Snapshot produces one HourlyFact candidate per element of the snapshot's
// time sequence. Returns ErrMalformedSnapshot if any present tracked metric
// array has a different length than the time array. Single-value coercion
// failures null the field, flag the fact, and continue.
func Snapshot(snap *model.RawSnapshot, now time.Time) ([]model.HourlyFact, error) {
	times, ok := snap.Payload[model.TimeKey]
	if !ok || len(times) == 0 {
		return nil, eris.Wrapf(ErrMalformedSnapshot, "snapshot %s: missing time sequence", snap.ID)
	}

	// Fail fast on any length mismatch before emitting a single fact.
	for _, name := range trackedMetrics {
		seq, present := snap.Payload[name]
		if present && len(seq) != len(times) {
			return nil, eris.Wrapf(ErrMalformedSnapshot,
				"snapshot %s: metric %s has %d values for %d hours",
				snap.ID, name, len(seq), len(times))
		}
	}

	facts := make([]model.HourlyFact, 0, len(times))
	for i, raw := range times {
		hour, err := parseHour(raw)
		if err != nil {
			return nil, eris.Wrapf(ErrMalformedSnapshot,
				"snapshot %s: bad time at index %d: %v", snap.ID, i, err)
		}

		f := model.HourlyFact{
			LocationKey:      snap.LocationKey,
			ObservationHour:  hour,
			SourceSnapshotID: snap.ID,
			ProcessedAt:      now,
		}

		for _, name := range trackedMetrics {
			seq, present := snap.Payload[name]
			if !present {
				continue
			}
			if !assign(&f, name, seq[i]) {
				f.QualityFlags = append(f.QualityFlags, "coerce_failed:"+name)
				zap.L().Warn("flatten: field coercion failed",
					zap.String("snapshot_id", snap.ID),
					zap.String("metric", name),
					zap.Int("index", i),
					zap.Any("value", seq[i]),
				)
			}
		}

		facts = append(facts, f)
	}

	return facts, nil
}

// assign coerces one raw value into its fact field. A nil value is a valid
// null, not a coercion failure. Returns false only when a non-nil value
// cannot be coerced.
func assign(f *model.HourlyFact, metric string, v any) bool {
	if v == nil {
		return true
	}

	switch metric {
	case "weather_code":
		n, ok := toInt(v)
		if !ok {
			return false
		}
		f.WeatherCode = &n
	case "is_day":
		b, ok := toBool(v)
		if !ok {
			return false
		}
		f.IsDay = &b
	default:
		x, ok := toFloat(v)
		if !ok {
			return false
		}
		switch metric {
		case "temperature_2m":
			f.Temperature = &x
		case "apparent_temperature":
			f.ApparentTemp = &x
		case "relative_humidity_2m":
			f.RelativeHumidity = &x
		case "precipitation":
			f.Precipitation = &x
		case "rain":
			f.Rain = &x
		case "showers":
			f.Showers = &x
		case "snowfall":
			f.Snowfall = &x
		case "wind_speed_10m":
			f.WindSpeed = &x
		case "cloud_cover":
			f.CloudCover = &x
		case "uv_index":
			f.UVIndex = &x
		}
	}
	return true
}

// parseHour accepts RFC3339 or Open-Meteo's zone-less layout (taken as UTC).
func parseHour(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		// Epoch seconds also appear when payloads round-trip through JSON.
		if n, numOk := toFloat(v); numOk {
			return time.Unix(int64(n), 0).UTC(), nil
		}
		return time.Time{}, fmt.Errorf("time value %v is not a string", v)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(hourLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// toBool accepts bools and the 0/1 encoding Open-Meteo uses for is_day.
func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	default:
		f, ok := toFloat(v)
		if !ok {
			return false, false
		}
		return f != 0, true
	}
}
