package warehouse

import (
	"database/sql"
	"time"
)

// IngestRun records one per-city ingestion attempt for auditing.
type IngestRun struct {
	ID               int64
	StartedAt        time.Time
	FinishedAt       sql.NullTime
	City             string
	Policy           string
	RecordsParsed    sql.NullInt64
	RecordsCommitted sql.NullInt64
	RecordsSkipped   sql.NullInt64
	Success          bool
	ErrorMessage     sql.NullString
}

// StartIngestRun creates a new run record and returns it.
func (s *Store) StartIngestRun(city, policy string) (*IngestRun, error) {
	run := &IngestRun{
		StartedAt: time.Now().UTC(),
		City:      city,
		Policy:    policy,
	}

	result, err := s.db.Exec(`
		INSERT INTO ingest_runs (started_at, city, policy, success)
		VALUES (?, ?, ?, FALSE)
	`, run.StartedAt, run.City, run.Policy)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteIngestRun writes the run's outcome.
func (s *Store) CompleteIngestRun(run *IngestRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE ingest_runs SET
			finished_at = ?,
			records_parsed = ?,
			records_committed = ?,
			records_skipped = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.RecordsParsed, run.RecordsCommitted,
		run.RecordsSkipped, run.Success, run.ErrorMessage, run.ID)
	return err
}

// RecentIngestRuns returns the latest runs, newest first.
func (s *Store) RecentIngestRuns(limit int) ([]IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, city, policy,
		       records_parsed, records_committed, records_skipped,
		       success, error_message
		FROM ingest_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []IngestRun
	for rows.Next() {
		var r IngestRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.City, &r.Policy,
			&r.RecordsParsed, &r.RecordsCommitted, &r.RecordsSkipped,
			&r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
