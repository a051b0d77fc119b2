package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/weathermart/internal/db"
	"github.com/sells-group/weathermart/internal/model"
	"github.com/sells-group/weathermart/internal/partition"
	"github.com/sells-group/weathermart/internal/scd"
	"github.com/sells-group/weathermart/internal/warehouse"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var factColumns = []string{
	"location_key", "observation_hour",
	"temperature_2m", "apparent_temperature", "relative_humidity_2m",
	"precipitation", "rain", "showers", "snowfall",
	"weather_code", "wind_speed_10m", "cloud_cover", "uv_index", "is_day",
	"quality_flags", "source_snapshot_id", "processed_at",
}

var summaryColumns = []string{
	"observation_date", "location_key",
	"temp_avg", "temp_min", "temp_max", "apparent_temp_avg", "humidity_avg",
	"precipitation_sum", "rain_sum", "showers_sum", "snowfall_sum",
	"wind_speed_avg", "cloud_cover_avg", "uv_index_max",
	"dominant_weather_code", "daylight_hours", "record_count", "updated_at",
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests and by commands
// that share one pool across components.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies pending warehouse migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return warehouse.Migrate(ctx, s.pool)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Pool exposes the underlying pool for components that need direct access
// (run log, migrations).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// InsertSnapshot appends one bronze record. Snapshots are never updated.
func (s *PostgresStore) InsertSnapshot(ctx context.Context, snap *model.RawSnapshot) error {
	payload, err := json.Marshal(snap.Payload)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal payload for snapshot %s", snap.ID)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO weather.raw_snapshots
		 (id, location_key, location_name, latitude, longitude, timezone, utc_offset_seconds,
		  retrieved_at, response_ms, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
		snap.ID, snap.LocationKey, snap.LocationName, snap.Latitude, snap.Longitude,
		snap.Timezone, snap.UTCOffsetSeconds, snap.RetrievedAt, snap.ResponseMS, payload,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert snapshot %s", snap.ID)
	}
	return nil
}

// ListSnapshots returns bronze records matching the filter, oldest first.
func (s *PostgresStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.RawSnapshot, error) {
	sql := `SELECT id, location_key, location_name, latitude, longitude, timezone, utc_offset_seconds,
	               retrieved_at, response_ms, payload, created_at
	        FROM weather.raw_snapshots WHERE 1=1`
	var args []any
	if filter.Since != nil {
		args = append(args, *filter.Since)
		op := ">"
		if filter.SinceInclusive {
			op = ">="
		}
		sql += fmt.Sprintf(" AND created_at %s $%d", op, len(args))
	}
	if filter.Until != nil {
		args = append(args, *filter.Until)
		sql += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	if len(filter.Locations) > 0 {
		args = append(args, filter.Locations)
		sql += fmt.Sprintf(" AND location_key = ANY($%d)", len(args))
	}
	sql += " ORDER BY created_at ASC"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list snapshots")
	}
	defer rows.Close()

	var snaps []model.RawSnapshot
	for rows.Next() {
		var snap model.RawSnapshot
		var payload []byte
		if err := rows.Scan(&snap.ID, &snap.LocationKey, &snap.LocationName,
			&snap.Latitude, &snap.Longitude, &snap.Timezone, &snap.UTCOffsetSeconds,
			&snap.RetrievedAt, &snap.ResponseMS, &payload, &snap.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		if err := json.Unmarshal(payload, &snap.Payload); err != nil {
			return nil, eris.Wrapf(err, "postgres: decode payload for snapshot %s", snap.ID)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// WriteFacts commits fact candidates with first-writer-wins semantics: a
// candidate whose (location_key, observation_hour) already exists is
// discarded, never overwritten. Returns the number of rows actually written.
func (s *PostgresStore) WriteFacts(ctx context.Context, facts []model.HourlyFact) (int64, error) {
	rows := make([][]any, 0, len(facts))
	for i := range facts {
		f := &facts[i]
		rows = append(rows, []any{
			f.LocationKey, f.ObservationHour,
			f.Temperature, f.ApparentTemp, f.RelativeHumidity,
			f.Precipitation, f.Rain, f.Showers, f.Snowfall,
			f.WeatherCode, f.WindSpeed, f.CloudCover, f.UVIndex, f.IsDay,
			f.QualityFlags, f.SourceSnapshotID, f.ProcessedAt,
		})
	}

	n, err := db.BulkInsertIgnore(ctx, s.pool, db.UpsertConfig{
		Table:        "weather.hourly_facts",
		Columns:      factColumns,
		ConflictKeys: []string{"location_key", "observation_hour"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: write facts")
	}
	return n, nil
}

// FactsForDay returns all facts for one (date, location) key.
func (s *PostgresStore) FactsForDay(ctx context.Context, key model.DayKey) ([]model.HourlyFact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT location_key, observation_hour,
		        temperature_2m, apparent_temperature, relative_humidity_2m,
		        precipitation, rain, showers, snowfall,
		        weather_code, wind_speed_10m, cloud_cover, uv_index, is_day,
		        quality_flags, source_snapshot_id, processed_at
		 FROM weather.hourly_facts
		 WHERE location_key = $1 AND observation_hour >= $2 AND observation_hour < $3
		 ORDER BY observation_hour ASC`,
		key.LocationKey, key.Date, key.Date.AddDate(0, 0, 1),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: facts for %s/%s", key.LocationKey, key.Date.Format("2006-01-02"))
	}
	defer rows.Close()

	var facts []model.HourlyFact
	for rows.Next() {
		var f model.HourlyFact
		if err := rows.Scan(&f.LocationKey, &f.ObservationHour,
			&f.Temperature, &f.ApparentTemp, &f.RelativeHumidity,
			&f.Precipitation, &f.Rain, &f.Showers, &f.Snowfall,
			&f.WeatherCode, &f.WindSpeed, &f.CloudCover, &f.UVIndex, &f.IsDay,
			&f.QualityFlags, &f.SourceSnapshotID, &f.ProcessedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan fact")
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// UpsertDailySummaries merge-upserts summary rows: new keys insert, existing
// keys are replaced in full (every aggregate column plus updated_at).
func (s *PostgresStore) UpsertDailySummaries(ctx context.Context, summaries []model.DailySummary) (int64, error) {
	rows := make([][]any, 0, len(summaries))
	for i := range summaries {
		d := &summaries[i]
		rows = append(rows, []any{
			d.ObservationDate, d.LocationKey,
			d.TempAvg, d.TempMin, d.TempMax, d.ApparentTempAvg, d.HumidityAvg,
			d.PrecipitationSum, d.RainSum, d.ShowersSum, d.SnowfallSum,
			d.WindSpeedAvg, d.CloudCoverAvg, d.UVIndexMax,
			d.DominantWeatherCode, d.DaylightHours, d.RecordCount, d.UpdatedAt,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "weather.daily_summaries",
		Columns:      summaryColumns,
		ConflictKeys: []string{"observation_date", "location_key"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert daily summaries")
	}
	return n, nil
}

// GetDailySummary returns the summary for a key, or nil if none exists.
func (s *PostgresStore) GetDailySummary(ctx context.Context, key model.DayKey) (*model.DailySummary, error) {
	var d model.DailySummary
	err := s.pool.QueryRow(ctx,
		`SELECT observation_date, location_key,
		        temp_avg, temp_min, temp_max, apparent_temp_avg, humidity_avg,
		        precipitation_sum, rain_sum, showers_sum, snowfall_sum,
		        wind_speed_avg, cloud_cover_avg, uv_index_max,
		        dominant_weather_code, daylight_hours, record_count, updated_at
		 FROM weather.daily_summaries
		 WHERE observation_date = $1 AND location_key = $2`,
		key.Date, key.LocationKey,
	).Scan(&d.ObservationDate, &d.LocationKey,
		&d.TempAvg, &d.TempMin, &d.TempMax, &d.ApparentTempAvg, &d.HumidityAvg,
		&d.PrecipitationSum, &d.RainSum, &d.ShowersSum, &d.SnowfallSum,
		&d.WindSpeedAvg, &d.CloudCoverAvg, &d.UVIndexMax,
		&d.DominantWeatherCode, &d.DaylightHours, &d.RecordCount, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || err.Error() == "no rows in result set" {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get summary %s/%s", key.LocationKey, key.Date.Format("2006-01-02"))
	}
	return &d, nil
}

// UpsertLocation applies the SCD2 transition for one observed location.
// Unchanged attributes return the existing version key without touching the
// table. A change closes the current version and opens a new one in the same
// transaction, keeping exactly one current version per natural key.
func (s *PostgresStore) UpsertLocation(ctx context.Context, loc model.Location, now time.Time) (int64, bool, error) {
	key := loc.NormalizedKey()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, false, eris.Wrap(err, "postgres: upsert location: begin tx")
	}
	defer tx.Rollback(ctx)

	var current model.Location
	var versionKey int64
	err = tx.QueryRow(ctx,
		`SELECT version_key, name, latitude, longitude, timezone, utc_offset_seconds
		 FROM weather.location_versions
		 WHERE location_key = $1 AND is_current
		 FOR UPDATE`,
		key,
	).Scan(&versionKey, &current.Name, &current.Latitude, &current.Longitude,
		&current.Timezone, &current.UTCOffsetSeconds)

	switch {
	case err != nil && (errors.Is(err, pgx.ErrNoRows) || err.Error() == "no rows in result set"):
		// First observation: open the initial version.
		v := scd.OpenVersion(loc, now)
		newKey, insErr := insertVersion(ctx, tx, v)
		if insErr != nil {
			return 0, false, insErr
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, false, eris.Wrap(err, "postgres: upsert location: commit")
		}
		return newKey, true, nil

	case err != nil:
		return 0, false, eris.Wrapf(err, "postgres: upsert location %s", key)
	}

	current.Key = key
	loc.Key = key
	if !scd.Changed(current, loc) {
		// No-op path: invoking the upsert must not grow the history.
		if err := tx.Commit(ctx); err != nil {
			return 0, false, eris.Wrap(err, "postgres: upsert location: commit")
		}
		return versionKey, false, nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE weather.location_versions
		 SET effective_to = $1, is_current = false
		 WHERE version_key = $2`,
		now.UTC(), versionKey,
	); err != nil {
		return 0, false, eris.Wrapf(err, "postgres: close version %d", versionKey)
	}

	v := scd.OpenVersion(loc, now)
	newKey, err := insertVersion(ctx, tx, v)
	if err != nil {
		return 0, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, false, eris.Wrap(err, "postgres: upsert location: commit")
	}
	return newKey, true, nil
}

func insertVersion(ctx context.Context, tx pgx.Tx, v model.LocationVersion) (int64, error) {
	var key int64
	err := tx.QueryRow(ctx,
		`INSERT INTO weather.location_versions
		 (location_key, name, latitude, longitude, timezone, utc_offset_seconds,
		  effective_from, effective_to, is_current)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true)
		 RETURNING version_key`,
		v.Location.Key, v.Location.Name, v.Location.Latitude, v.Location.Longitude,
		v.Location.Timezone, v.Location.UTCOffsetSeconds,
		v.EffectiveFrom, v.EffectiveTo,
	).Scan(&key)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: open version for %s", v.Location.Key)
	}
	return key, nil
}

// CurrentLocation returns the current version for a natural key, or nil.
func (s *PostgresStore) CurrentLocation(ctx context.Context, locationKey string) (*model.LocationVersion, error) {
	var v model.LocationVersion
	err := s.pool.QueryRow(ctx,
		`SELECT version_key, location_key, name, latitude, longitude, timezone, utc_offset_seconds,
		        effective_from, effective_to, is_current
		 FROM weather.location_versions
		 WHERE location_key = $1 AND is_current`,
		locationKey,
	).Scan(&v.VersionKey, &v.Location.Key, &v.Location.Name, &v.Location.Latitude,
		&v.Location.Longitude, &v.Location.Timezone, &v.Location.UTCOffsetSeconds,
		&v.EffectiveFrom, &v.EffectiveTo, &v.IsCurrent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || err.Error() == "no rows in result set" {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: current location %s", locationKey)
	}
	return &v, nil
}

// CurrentLocationKeys returns the natural keys of all current dimension rows.
func (s *PostgresStore) CurrentLocationKeys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT location_key FROM weather.location_versions WHERE is_current ORDER BY location_key")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: current location keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrap(err, "postgres: scan location key")
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// EnsurePartitions creates any missing monthly partitions. Safe to call
// concurrently: existing ranges no-op via IF NOT EXISTS, and a creation
// failure (e.g. the default partition already holds rows in the range) is
// surfaced as a warning, never an error — the catch-all keeps absorbing
// writes either way.
func (s *PostgresStore) EnsurePartitions(ctx context.Context, ranges []partition.Range) (int, error) {
	log := zap.L().With(zap.String("component", "store.partitions"))
	created := 0

	for _, r := range ranges {
		var reg *string
		if err := s.pool.QueryRow(ctx, "SELECT to_regclass($1)", "weather."+r.Name).Scan(&reg); err != nil {
			return created, eris.Wrapf(err, "postgres: check partition %s", r.Name)
		}
		if reg != nil {
			continue
		}

		ddl := fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s PARTITION OF weather.hourly_facts FOR VALUES FROM ('%s') TO ('%s')",
			pgx.Identifier{"weather", r.Name}.Sanitize(),
			r.Start.UTC().Format(time.RFC3339),
			r.End.UTC().Format(time.RFC3339),
		)
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			log.Warn("partition creation failed; facts keep landing in the default partition",
				zap.String("partition", r.Name),
				zap.Error(err),
			)
			continue
		}
		created++
		log.Info("partition created",
			zap.String("partition", r.Name),
			zap.Time("start", r.Start),
			zap.Time("end", r.End),
		)
	}
	return created, nil
}

// UnpartitionedFactCount reports how many facts sit in the default catch-all
// partition, i.e. outside every explicitly created range.
func (s *PostgresStore) UnpartitionedFactCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, "SELECT count(*) FROM weather.hourly_facts_default").Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count default partition facts")
	}
	return n, nil
}
