// Package warehouse is the durable system of record for measurements.
//
// The measurements table deliberately carries no uniqueness constraint on
// (city, timestamp); that invariant belongs to the commit engine, which
// reconciles batches against QueryExistingKeys before writing.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/airhist/airhist/internal/models"
)

// Warehouse is the storage contract the commit engine writes through.
type Warehouse interface {
	// QueryExistingKeys returns the set of already-stored timestamps
	// (unix seconds, UTC) for a city within [start, end] inclusive.
	QueryExistingKeys(ctx context.Context, city string, start, end time.Time) (map[int64]struct{}, error)

	// LoadAppend inserts rows non-destructively. A partial write is
	// retryable: the engine dedups against existing keys on the next
	// attempt.
	LoadAppend(ctx context.Context, rows []models.Measurement) error

	// LoadOverwriteWindow atomically replaces the city's rows within
	// [start, end] inclusive with the given rows. Rows for other cities
	// and out-of-window timestamps are untouched, and readers never see
	// the window half-swapped.
	LoadOverwriteWindow(ctx context.Context, city string, start, end time.Time, rows []models.Measurement) error
}

// Store implements Warehouse on SQLite.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the handle for collaborators sharing the same database file.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) QueryExistingKeys(ctx context.Context, city string, start, end time.Time) (map[int64]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp FROM measurements
		WHERE city = ? AND timestamp >= ? AND timestamp <= ?
	`, city, start.UTC().Unix(), end.UTC().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[int64]struct{})
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		keys[ts] = struct{}{}
	}
	return keys, rows.Err()
}

const insertMeasurementSQL = `
	INSERT INTO measurements (city, timestamp, aqi, co, no, no2, o3, so2, pm2_5, pm10, nh3)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func insertMeasurement(ctx context.Context, stmt *sql.Stmt, m models.Measurement) error {
	_, err := stmt.ExecContext(ctx, m.City, m.Timestamp.UTC().Unix(),
		m.AQI, m.CO, m.NO, m.NO2, m.O3, m.SO2, m.PM25, m.PM10, m.NH3)
	return err
}

func (s *Store) LoadAppend(ctx context.Context, rows []models.Measurement) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertMeasurementSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range rows {
		if err := insertMeasurement(ctx, stmt, m); err != nil {
			return fmt.Errorf("insert %s %d: %w", m.City, m.Timestamp.Unix(), err)
		}
	}
	return tx.Commit()
}

func (s *Store) LoadOverwriteWindow(ctx context.Context, city string, start, end time.Time, rows []models.Measurement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM measurements
		WHERE city = ? AND timestamp >= ? AND timestamp <= ?
	`, city, start.UTC().Unix(), end.UTC().Unix())
	if err != nil {
		return fmt.Errorf("delete window %s: %w", city, err)
	}

	stmt, err := tx.PrepareContext(ctx, insertMeasurementSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range rows {
		if err := insertMeasurement(ctx, stmt, m); err != nil {
			return fmt.Errorf("insert %s %d: %w", m.City, m.Timestamp.Unix(), err)
		}
	}
	return tx.Commit()
}

// Measurements returns a city's rows within [start, end] inclusive,
// ascending by timestamp. Timestamps come back in UTC; callers localize
// with the city's zone when they need local labels.
func (s *Store) Measurements(ctx context.Context, city string, start, end time.Time) ([]models.Measurement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT city, timestamp, aqi, co, no, no2, o3, so2, pm2_5, pm10, nh3
		FROM measurements
		WHERE city = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, city, start.UTC().Unix(), end.UTC().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMeasurements(rows)
}

// AllMeasurements returns every stored row, ascending by city then
// timestamp. Test and inspection helper.
func (s *Store) AllMeasurements(ctx context.Context) ([]models.Measurement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT city, timestamp, aqi, co, no, no2, o3, so2, pm2_5, pm10, nh3
		FROM measurements
		ORDER BY city ASC, timestamp ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMeasurements(rows)
}

func scanMeasurements(rows *sql.Rows) ([]models.Measurement, error) {
	var out []models.Measurement
	for rows.Next() {
		var m models.Measurement
		var ts int64
		if err := rows.Scan(&m.City, &ts, &m.AQI, &m.CO, &m.NO, &m.NO2, &m.O3, &m.SO2, &m.PM25, &m.PM10, &m.NH3); err != nil {
			return nil, err
		}
		m.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertCity caches a resolved city so later runs skip geocoding.
func (s *Store) UpsertCity(c models.City) error {
	_, err := s.db.Exec(`
		INSERT INTO cities (name, latitude, longitude, timezone, resolved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			timezone = excluded.timezone,
			resolved_at = excluded.resolved_at
	`, c.Name, c.Latitude, c.Longitude, c.Timezone, c.ResolvedAt)
	return err
}

// GetCity returns the cached resolution for a name, or nil when the city
// has never been resolved.
func (s *Store) GetCity(name string) (*models.City, error) {
	row := s.db.QueryRow(`
		SELECT name, latitude, longitude, timezone, resolved_at
		FROM cities WHERE name = ?
	`, name)

	var c models.City
	err := row.Scan(&c.Name, &c.Latitude, &c.Longitude, &c.Timezone, &c.ResolvedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Cities returns all cached resolutions ordered by name.
func (s *Store) Cities() ([]models.City, error) {
	rows, err := s.db.Query(`
		SELECT name, latitude, longitude, timezone, resolved_at
		FROM cities ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cities []models.City
	for rows.Next() {
		var c models.City
		if err := rows.Scan(&c.Name, &c.Latitude, &c.Longitude, &c.Timezone, &c.ResolvedAt); err != nil {
			return nil, err
		}
		cities = append(cities, c)
	}
	return cities, rows.Err()
}
