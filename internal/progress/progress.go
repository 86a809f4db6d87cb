// Package progress persists each city's last successfully ingested date.
//
// The warehouse table is the system of record; this store is a derived
// optimization and is safe to lose. A missing or stale entry only means
// the next run re-fetches a window the commit engine dedups anyway.
package progress

import (
	"database/sql"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetLastDate returns the last ingested local date for a city. ok is
// false when the city has never completed a commit.
func (s *Store) GetLastDate(city string) (date time.Time, ok bool, err error) {
	var raw string
	row := s.db.QueryRow(`SELECT last_date FROM ingest_progress WHERE city = ?`, city)
	if err := row.Scan(&raw); err == sql.ErrNoRows {
		return time.Time{}, false, nil
	} else if err != nil {
		return time.Time{}, false, err
	}

	date, err = time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse progress date %q for %s: %w", raw, city, err)
	}
	return date, true, nil
}

// SetLastDate records a city's last ingested date. Called only after the
// warehouse write is confirmed durable; that ordering is what makes
// crash-and-retry safe.
func (s *Store) SetLastDate(city string, date time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO ingest_progress (city, last_date, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(city) DO UPDATE SET
			last_date = excluded.last_date,
			updated_at = excluded.updated_at
	`, city, date.Format(dateLayout), time.Now().UTC())
	return err
}
