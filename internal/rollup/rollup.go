// Package rollup recomputes gold-tier daily summaries from silver-tier
// hourly facts. Every rollup is a full recompute from the stored fact set:
// late or corrected facts can arrive after the first pass, and incremental
// accumulation would double-count on re-runs.
package rollup

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/weathermart/internal/model"
)

// ErrNoFacts signals a rollup invoked for a key with zero facts. No summary
// row is produced: a zero-filled row would fabricate data.
var ErrNoFacts = eris.New("rollup: no facts for key")

// Summarize aggregates one day's facts for one location into a DailySummary.
// Null metric values are excluded from their aggregate; an all-null metric
// yields a null aggregate. Deterministic for a given fact set, so re-running
// it produces an identical summary.
func Summarize(key model.DayKey, facts []model.HourlyFact, now time.Time) (*model.DailySummary, error) {
	if len(facts) == 0 {
		return nil, eris.Wrapf(ErrNoFacts, "%s on %s", key.LocationKey, key.Date.Format("2006-01-02"))
	}

	s := &model.DailySummary{
		ObservationDate: key.Date,
		LocationKey:     key.LocationKey,
		RecordCount:     len(facts),
		UpdatedAt:       now,
	}

	var (
		temp, apparent, humidity, wind, cloud agg
		precip, rain, showers, snow           agg
		uvMax                                 *float64
		codeCounts                            = make(map[int]int)
	)

	for i := range facts {
		f := &facts[i]
		temp.add(f.Temperature)
		apparent.add(f.ApparentTemp)
		humidity.add(f.RelativeHumidity)
		wind.add(f.WindSpeed)
		cloud.add(f.CloudCover)
		precip.add(f.Precipitation)
		rain.add(f.Rain)
		showers.add(f.Showers)
		snow.add(f.Snowfall)

		if f.UVIndex != nil && (uvMax == nil || *f.UVIndex > *uvMax) {
			v := *f.UVIndex
			uvMax = &v
		}
		if f.WeatherCode != nil {
			codeCounts[*f.WeatherCode]++
		}
		if f.IsDay != nil && *f.IsDay {
			s.DaylightHours++
		}
	}

	s.TempAvg = temp.mean()
	s.TempMin = temp.min
	s.TempMax = temp.max
	s.ApparentTempAvg = apparent.mean()
	s.HumidityAvg = humidity.mean()
	s.WindSpeedAvg = wind.mean()
	s.CloudCoverAvg = cloud.mean()
	s.PrecipitationSum = precip.sumOrNil()
	s.RainSum = rain.sumOrNil()
	s.ShowersSum = showers.sumOrNil()
	s.SnowfallSum = snow.sumOrNil()
	s.UVIndexMax = uvMax
	s.DominantWeatherCode = dominantCode(codeCounts)

	return s, nil
}

// dominantCode returns the most frequent code. Ties break to the lowest
// code: WMO codes order roughly by severity, so the rule is deterministic
// and errs toward the milder description.
func dominantCode(counts map[int]int) *int {
	if len(counts) == 0 {
		return nil
	}
	best := 0
	bestCount := -1
	for code, n := range counts {
		if n > bestCount || (n == bestCount && code < best) {
			best = code
			bestCount = n
		}
	}
	return &best
}

// agg accumulates sum/min/max over the non-null values of one metric.
type agg struct {
	sum      float64
	n        int
	min, max *float64
}

func (a *agg) add(v *float64) {
	if v == nil {
		return
	}
	a.sum += *v
	a.n++
	if a.min == nil || *v < *a.min {
		x := *v
		a.min = &x
	}
	if a.max == nil || *v > *a.max {
		x := *v
		a.max = &x
	}
}

func (a *agg) mean() *float64 {
	if a.n == 0 {
		return nil
	}
	m := a.sum / float64(a.n)
	return &m
}

func (a *agg) sumOrNil() *float64 {
	if a.n == 0 {
		return nil
	}
	s := a.sum
	return &s
}
