package warehouse

import (
	"context"
	"database/sql"
	"time"
)

// Aggregated views backing the dashboard API. Grouping happens on the UTC
// timeline; per-city local grouping would need a zone join that SQLite
// cannot do natively, and the dashboard charts only need consistent bins.

// AnnualMean is one city-year of mean pollutant levels.
type AnnualMean struct {
	City  string
	Year  int
	Hours int64 // rows contributing to the means
	AQI   sql.NullFloat64
	CO    sql.NullFloat64
	NO    sql.NullFloat64
	NO2   sql.NullFloat64
	O3    sql.NullFloat64
	SO2   sql.NullFloat64
	PM25  sql.NullFloat64
	PM10  sql.NullFloat64
	NH3   sql.NullFloat64
}

func (s *Store) AnnualMeans(ctx context.Context) ([]AnnualMean, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT city,
		       CAST(strftime('%Y', timestamp, 'unixepoch') AS INTEGER) AS year,
		       COUNT(*),
		       AVG(aqi), AVG(co), AVG(no), AVG(no2), AVG(o3),
		       AVG(so2), AVG(pm2_5), AVG(pm10), AVG(nh3)
		FROM measurements
		GROUP BY city, year
		ORDER BY city ASC, year ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var means []AnnualMean
	for rows.Next() {
		var m AnnualMean
		if err := rows.Scan(&m.City, &m.Year, &m.Hours,
			&m.AQI, &m.CO, &m.NO, &m.NO2, &m.O3,
			&m.SO2, &m.PM25, &m.PM10, &m.NH3); err != nil {
			return nil, err
		}
		means = append(means, m)
	}
	return means, rows.Err()
}

// RollingMean is one hour's trailing-24h mean pollutant levels.
type RollingMean struct {
	City      string
	Timestamp time.Time
	CO        sql.NullFloat64
	NO2       sql.NullFloat64
	O3        sql.NullFloat64
	SO2       sql.NullFloat64
	PM25      sql.NullFloat64
	PM10      sql.NullFloat64
}

func (s *Store) Rolling24hMeans(ctx context.Context, city string, start, end time.Time) ([]RollingMean, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT city, timestamp,
		       AVG(co)    OVER w,
		       AVG(no2)   OVER w,
		       AVG(o3)    OVER w,
		       AVG(so2)   OVER w,
		       AVG(pm2_5) OVER w,
		       AVG(pm10)  OVER w
		FROM measurements
		WHERE city = ? AND timestamp >= ? AND timestamp <= ?
		WINDOW w AS (PARTITION BY city ORDER BY timestamp RANGE BETWEEN 86399 PRECEDING AND CURRENT ROW)
		ORDER BY timestamp ASC
	`, city, start.UTC().Unix(), end.UTC().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var means []RollingMean
	for rows.Next() {
		var m RollingMean
		var ts int64
		if err := rows.Scan(&m.City, &ts, &m.CO, &m.NO2, &m.O3, &m.SO2, &m.PM25, &m.PM10); err != nil {
			return nil, err
		}
		m.Timestamp = time.Unix(ts, 0).UTC()
		means = append(means, m)
	}
	return means, rows.Err()
}

// OzoneDailyMax is one day's maximum trailing-8h mean ozone, the metric
// behind WHO's peak-season guideline.
type OzoneDailyMax struct {
	City  string
	Date  string // YYYY-MM-DD
	O3Max sql.NullFloat64
}

func (s *Store) OzoneDaily8hMax(ctx context.Context, city string, start, end time.Time) ([]OzoneDailyMax, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH rolling AS (
			SELECT city, timestamp,
			       AVG(o3) OVER (PARTITION BY city ORDER BY timestamp RANGE BETWEEN 25199 PRECEDING AND CURRENT ROW) AS o3_8h
			FROM measurements
			WHERE city = ? AND timestamp >= ? AND timestamp <= ?
		)
		SELECT city, strftime('%Y-%m-%d', timestamp, 'unixepoch') AS date, MAX(o3_8h)
		FROM rolling
		GROUP BY city, date
		ORDER BY date ASC
	`, city, start.UTC().Unix(), end.UTC().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var maxes []OzoneDailyMax
	for rows.Next() {
		var m OzoneDailyMax
		if err := rows.Scan(&m.City, &m.Date, &m.O3Max); err != nil {
			return nil, err
		}
		maxes = append(maxes, m)
	}
	return maxes, rows.Err()
}
