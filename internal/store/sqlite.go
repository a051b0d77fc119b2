package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/weathermart/internal/model"
	"github.com/sells-group/weathermart/internal/partition"
	"github.com/sells-group/weathermart/internal/scd"
)

// SQLiteStore implements Store using modernc.org/sqlite. It serves local
// runs and tests; partitions degrade to a range-registry table since SQLite
// has no native partitioning.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS raw_snapshots (
	id                 TEXT PRIMARY KEY,
	location_key       TEXT NOT NULL,
	location_name      TEXT NOT NULL,
	latitude           REAL NOT NULL,
	longitude          REAL NOT NULL,
	timezone           TEXT NOT NULL,
	utc_offset_seconds INTEGER NOT NULL DEFAULT 0,
	retrieved_at       TEXT NOT NULL,
	response_ms        REAL NOT NULL DEFAULT 0,
	payload            TEXT NOT NULL,
	created_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS hourly_facts (
	location_key         TEXT NOT NULL,
	observation_hour     TEXT NOT NULL,
	temperature_2m       REAL,
	apparent_temperature REAL,
	relative_humidity_2m REAL,
	precipitation        REAL,
	rain                 REAL,
	showers              REAL,
	snowfall             REAL,
	weather_code         INTEGER,
	wind_speed_10m       REAL,
	cloud_cover          REAL,
	uv_index             REAL,
	is_day               INTEGER,
	quality_flags        TEXT,
	source_snapshot_id   TEXT NOT NULL,
	processed_at         TEXT NOT NULL,
	PRIMARY KEY (location_key, observation_hour)
);

CREATE TABLE IF NOT EXISTS daily_summaries (
	observation_date      TEXT NOT NULL,
	location_key          TEXT NOT NULL,
	temp_avg              REAL,
	temp_min              REAL,
	temp_max              REAL,
	apparent_temp_avg     REAL,
	humidity_avg          REAL,
	precipitation_sum     REAL,
	rain_sum              REAL,
	showers_sum           REAL,
	snowfall_sum          REAL,
	wind_speed_avg        REAL,
	cloud_cover_avg       REAL,
	uv_index_max          REAL,
	dominant_weather_code INTEGER,
	daylight_hours        INTEGER NOT NULL DEFAULT 0,
	record_count          INTEGER NOT NULL DEFAULT 0,
	updated_at            TEXT NOT NULL,
	PRIMARY KEY (observation_date, location_key)
);

CREATE TABLE IF NOT EXISTS location_versions (
	version_key        INTEGER PRIMARY KEY AUTOINCREMENT,
	location_key       TEXT NOT NULL,
	name               TEXT NOT NULL,
	latitude           REAL NOT NULL,
	longitude          REAL NOT NULL,
	timezone           TEXT NOT NULL,
	utc_offset_seconds INTEGER NOT NULL DEFAULT 0,
	effective_from     TEXT NOT NULL,
	effective_to       TEXT NOT NULL,
	is_current         INTEGER NOT NULL DEFAULT 1
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_location_versions_current
	ON location_versions (location_key) WHERE is_current = 1;

CREATE TABLE IF NOT EXISTS fact_partitions (
	name     TEXT PRIMARY KEY,
	start_ts TEXT NOT NULL,
	end_ts   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_snapshots_created_at ON raw_snapshots(created_at);
CREATE INDEX IF NOT EXISTS idx_location_versions_key ON location_versions(location_key);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Times are stored as UTC RFC3339 text so lexicographic comparison matches
// chronological order.
func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func decodeTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func encodeDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func decodeDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func encodeFlags(flags []string) (any, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(flags)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *SQLiteStore) InsertSnapshot(ctx context.Context, snap *model.RawSnapshot) error {
	payload, err := json.Marshal(snap.Payload)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal payload for snapshot %s", snap.ID)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO raw_snapshots
		 (id, location_key, location_name, latitude, longitude, timezone, utc_offset_seconds,
		  retrieved_at, response_ms, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.LocationKey, snap.LocationName, snap.Latitude, snap.Longitude,
		snap.Timezone, snap.UTCOffsetSeconds, encodeTime(snap.RetrievedAt),
		snap.ResponseMS, string(payload), encodeTime(time.Now()),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert snapshot %s", snap.ID)
	}
	return nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.RawSnapshot, error) {
	sqlStr := `SELECT id, location_key, location_name, latitude, longitude, timezone, utc_offset_seconds,
	                  retrieved_at, response_ms, payload, created_at
	           FROM raw_snapshots WHERE 1=1`
	var args []any
	if filter.Since != nil {
		if filter.SinceInclusive {
			sqlStr += " AND created_at >= ?"
		} else {
			sqlStr += " AND created_at > ?"
		}
		args = append(args, encodeTime(*filter.Since))
	}
	if filter.Until != nil {
		sqlStr += " AND created_at <= ?"
		args = append(args, encodeTime(*filter.Until))
	}
	if len(filter.Locations) > 0 {
		sqlStr += " AND location_key IN ("
		for i, loc := range filter.Locations {
			if i > 0 {
				sqlStr += ", "
			}
			sqlStr += "?"
			args = append(args, loc)
		}
		sqlStr += ")"
	}
	sqlStr += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list snapshots")
	}
	defer rows.Close()

	var snaps []model.RawSnapshot
	for rows.Next() {
		var snap model.RawSnapshot
		var retrievedAt, createdAt, payload string
		if err := rows.Scan(&snap.ID, &snap.LocationKey, &snap.LocationName,
			&snap.Latitude, &snap.Longitude, &snap.Timezone, &snap.UTCOffsetSeconds,
			&retrievedAt, &snap.ResponseMS, &payload, &createdAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		if snap.RetrievedAt, err = decodeTime(retrievedAt); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode retrieved_at for %s", snap.ID)
		}
		if snap.CreatedAt, err = decodeTime(createdAt); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode created_at for %s", snap.ID)
		}
		if err := json.Unmarshal([]byte(payload), &snap.Payload); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode payload for %s", snap.ID)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *SQLiteStore) WriteFacts(ctx context.Context, facts []model.HourlyFact) (int64, error) {
	if len(facts) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: write facts: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO hourly_facts
		 (location_key, observation_hour, temperature_2m, apparent_temperature, relative_humidity_2m,
		  precipitation, rain, showers, snowfall, weather_code, wind_speed_10m, cloud_cover,
		  uv_index, is_day, quality_flags, source_snapshot_id, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (location_key, observation_hour) DO NOTHING`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: write facts: prepare")
	}
	defer stmt.Close()

	var written int64
	for i := range facts {
		f := &facts[i]
		flags, err := encodeFlags(f.QualityFlags)
		if err != nil {
			return written, eris.Wrap(err, "sqlite: encode quality flags")
		}
		res, err := stmt.ExecContext(ctx,
			f.LocationKey, encodeTime(f.ObservationHour),
			f.Temperature, f.ApparentTemp, f.RelativeHumidity,
			f.Precipitation, f.Rain, f.Showers, f.Snowfall,
			f.WeatherCode, f.WindSpeed, f.CloudCover, f.UVIndex, f.IsDay,
			flags, f.SourceSnapshotID, encodeTime(f.ProcessedAt),
		)
		if err != nil {
			return written, eris.Wrapf(err, "sqlite: write fact %s@%s", f.LocationKey, f.ObservationHour)
		}
		n, _ := res.RowsAffected()
		written += n
	}

	if err := tx.Commit(); err != nil {
		return written, eris.Wrap(err, "sqlite: write facts: commit")
	}
	return written, nil
}

func (s *SQLiteStore) FactsForDay(ctx context.Context, key model.DayKey) ([]model.HourlyFact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT location_key, observation_hour, temperature_2m, apparent_temperature, relative_humidity_2m,
		        precipitation, rain, showers, snowfall, weather_code, wind_speed_10m, cloud_cover,
		        uv_index, is_day, quality_flags, source_snapshot_id, processed_at
		 FROM hourly_facts
		 WHERE location_key = ? AND observation_hour >= ? AND observation_hour < ?
		 ORDER BY observation_hour ASC`,
		key.LocationKey, encodeTime(key.Date), encodeTime(key.Date.AddDate(0, 0, 1)),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: facts for %s/%s", key.LocationKey, key.Date.Format("2006-01-02"))
	}
	defer rows.Close()

	var facts []model.HourlyFact
	for rows.Next() {
		var f model.HourlyFact
		var hour, processedAt string
		var flags sql.NullString
		var isDay sql.NullBool
		if err := rows.Scan(&f.LocationKey, &hour,
			&f.Temperature, &f.ApparentTemp, &f.RelativeHumidity,
			&f.Precipitation, &f.Rain, &f.Showers, &f.Snowfall,
			&f.WeatherCode, &f.WindSpeed, &f.CloudCover, &f.UVIndex, &isDay,
			&flags, &f.SourceSnapshotID, &processedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fact")
		}
		if f.ObservationHour, err = decodeTime(hour); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode observation_hour")
		}
		if f.ProcessedAt, err = decodeTime(processedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode processed_at")
		}
		if isDay.Valid {
			b := isDay.Bool
			f.IsDay = &b
		}
		if flags.Valid && flags.String != "" {
			if err := json.Unmarshal([]byte(flags.String), &f.QualityFlags); err != nil {
				return nil, eris.Wrap(err, "sqlite: decode quality flags")
			}
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func (s *SQLiteStore) UpsertDailySummaries(ctx context.Context, summaries []model.DailySummary) (int64, error) {
	if len(summaries) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert summaries: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO daily_summaries
		 (observation_date, location_key, temp_avg, temp_min, temp_max, apparent_temp_avg,
		  humidity_avg, precipitation_sum, rain_sum, showers_sum, snowfall_sum,
		  wind_speed_avg, cloud_cover_avg, uv_index_max, dominant_weather_code,
		  daylight_hours, record_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (observation_date, location_key) DO UPDATE SET
		   temp_avg = excluded.temp_avg,
		   temp_min = excluded.temp_min,
		   temp_max = excluded.temp_max,
		   apparent_temp_avg = excluded.apparent_temp_avg,
		   humidity_avg = excluded.humidity_avg,
		   precipitation_sum = excluded.precipitation_sum,
		   rain_sum = excluded.rain_sum,
		   showers_sum = excluded.showers_sum,
		   snowfall_sum = excluded.snowfall_sum,
		   wind_speed_avg = excluded.wind_speed_avg,
		   cloud_cover_avg = excluded.cloud_cover_avg,
		   uv_index_max = excluded.uv_index_max,
		   dominant_weather_code = excluded.dominant_weather_code,
		   daylight_hours = excluded.daylight_hours,
		   record_count = excluded.record_count,
		   updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert summaries: prepare")
	}
	defer stmt.Close()

	var n int64
	for i := range summaries {
		d := &summaries[i]
		if _, err := stmt.ExecContext(ctx,
			encodeDate(d.ObservationDate), d.LocationKey,
			d.TempAvg, d.TempMin, d.TempMax, d.ApparentTempAvg, d.HumidityAvg,
			d.PrecipitationSum, d.RainSum, d.ShowersSum, d.SnowfallSum,
			d.WindSpeedAvg, d.CloudCoverAvg, d.UVIndexMax,
			d.DominantWeatherCode, d.DaylightHours, d.RecordCount, encodeTime(d.UpdatedAt),
		); err != nil {
			return n, eris.Wrapf(err, "sqlite: upsert summary %s/%s", d.LocationKey, d.ObservationDate.Format("2006-01-02"))
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return n, eris.Wrap(err, "sqlite: upsert summaries: commit")
	}
	return n, nil
}

func (s *SQLiteStore) GetDailySummary(ctx context.Context, key model.DayKey) (*model.DailySummary, error) {
	var d model.DailySummary
	var date, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT observation_date, location_key, temp_avg, temp_min, temp_max, apparent_temp_avg,
		        humidity_avg, precipitation_sum, rain_sum, showers_sum, snowfall_sum,
		        wind_speed_avg, cloud_cover_avg, uv_index_max, dominant_weather_code,
		        daylight_hours, record_count, updated_at
		 FROM daily_summaries
		 WHERE observation_date = ? AND location_key = ?`,
		encodeDate(key.Date), key.LocationKey,
	).Scan(&date, &d.LocationKey,
		&d.TempAvg, &d.TempMin, &d.TempMax, &d.ApparentTempAvg, &d.HumidityAvg,
		&d.PrecipitationSum, &d.RainSum, &d.ShowersSum, &d.SnowfallSum,
		&d.WindSpeedAvg, &d.CloudCoverAvg, &d.UVIndexMax,
		&d.DominantWeatherCode, &d.DaylightHours, &d.RecordCount, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get summary %s/%s", key.LocationKey, key.Date.Format("2006-01-02"))
	}
	if d.ObservationDate, err = decodeDate(date); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode observation_date")
	}
	if d.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode updated_at")
	}
	return &d, nil
}

func (s *SQLiteStore) UpsertLocation(ctx context.Context, loc model.Location, now time.Time) (int64, bool, error) {
	key := loc.NormalizedKey()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, eris.Wrap(err, "sqlite: upsert location: begin tx")
	}
	defer tx.Rollback()

	var current model.Location
	var versionKey int64
	err = tx.QueryRowContext(ctx,
		`SELECT version_key, name, latitude, longitude, timezone, utc_offset_seconds
		 FROM location_versions WHERE location_key = ? AND is_current = 1`,
		key,
	).Scan(&versionKey, &current.Name, &current.Latitude, &current.Longitude,
		&current.Timezone, &current.UTCOffsetSeconds)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		v := scd.OpenVersion(loc, now)
		newKey, insErr := sqliteInsertVersion(ctx, tx, v)
		if insErr != nil {
			return 0, false, insErr
		}
		if err := tx.Commit(); err != nil {
			return 0, false, eris.Wrap(err, "sqlite: upsert location: commit")
		}
		return newKey, true, nil

	case err != nil:
		return 0, false, eris.Wrapf(err, "sqlite: upsert location %s", key)
	}

	current.Key = key
	loc.Key = key
	if !scd.Changed(current, loc) {
		if err := tx.Commit(); err != nil {
			return 0, false, eris.Wrap(err, "sqlite: upsert location: commit")
		}
		return versionKey, false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE location_versions SET effective_to = ?, is_current = 0 WHERE version_key = ?`,
		encodeTime(now), versionKey,
	); err != nil {
		return 0, false, eris.Wrapf(err, "sqlite: close version %d", versionKey)
	}

	v := scd.OpenVersion(loc, now)
	newKey, err := sqliteInsertVersion(ctx, tx, v)
	if err != nil {
		return 0, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, false, eris.Wrap(err, "sqlite: upsert location: commit")
	}
	return newKey, true, nil
}

func sqliteInsertVersion(ctx context.Context, tx *sql.Tx, v model.LocationVersion) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO location_versions
		 (location_key, name, latitude, longitude, timezone, utc_offset_seconds,
		  effective_from, effective_to, is_current)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		v.Location.Key, v.Location.Name, v.Location.Latitude, v.Location.Longitude,
		v.Location.Timezone, v.Location.UTCOffsetSeconds,
		encodeTime(v.EffectiveFrom), encodeTime(v.EffectiveTo),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: open version for %s", v.Location.Key)
	}
	key, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: version key")
	}
	return key, nil
}

func (s *SQLiteStore) CurrentLocation(ctx context.Context, locationKey string) (*model.LocationVersion, error) {
	var v model.LocationVersion
	var from, to string
	var isCurrent int
	err := s.db.QueryRowContext(ctx,
		`SELECT version_key, location_key, name, latitude, longitude, timezone, utc_offset_seconds,
		        effective_from, effective_to, is_current
		 FROM location_versions WHERE location_key = ? AND is_current = 1`,
		locationKey,
	).Scan(&v.VersionKey, &v.Location.Key, &v.Location.Name, &v.Location.Latitude,
		&v.Location.Longitude, &v.Location.Timezone, &v.Location.UTCOffsetSeconds,
		&from, &to, &isCurrent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: current location %s", locationKey)
	}
	if v.EffectiveFrom, err = decodeTime(from); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode effective_from")
	}
	if v.EffectiveTo, err = decodeTime(to); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode effective_to")
	}
	v.IsCurrent = isCurrent == 1
	return &v, nil
}

// CurrentLocationKeys returns the natural keys of all current dimension rows.
func (s *SQLiteStore) CurrentLocationKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT location_key FROM location_versions WHERE is_current = 1 ORDER BY location_key")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: current location keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan location key")
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// EnsurePartitions records ranges in the registry table. SQLite has no
// native partitions, so the registry is bookkeeping that keeps both backends
// reporting the same lifecycle state.
func (s *SQLiteStore) EnsurePartitions(ctx context.Context, ranges []partition.Range) (int, error) {
	created := 0
	for _, r := range ranges {
		res, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO fact_partitions (name, start_ts, end_ts) VALUES (?, ?, ?)`,
			r.Name, encodeTime(r.Start), encodeTime(r.End),
		)
		if err != nil {
			return created, eris.Wrapf(err, "sqlite: ensure partition %s", r.Name)
		}
		n, _ := res.RowsAffected()
		created += int(n)
	}
	return created, nil
}

// UnpartitionedFactCount counts facts outside every registered range.
func (s *SQLiteStore) UnpartitionedFactCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM hourly_facts f
		 WHERE NOT EXISTS (
		   SELECT 1 FROM fact_partitions p
		   WHERE f.observation_hour >= p.start_ts AND f.observation_hour < p.end_ts
		 )`,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count unpartitioned facts")
	}
	return n, nil
}
