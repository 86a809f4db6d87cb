// Package ingest reconciles normalized batches against the warehouse and
// orchestrates per-city collection runs.
package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/airhist/airhist/internal/metrics"
	"github.com/airhist/airhist/internal/models"
	"github.com/airhist/airhist/internal/progress"
	"github.com/airhist/airhist/internal/warehouse"
)

// Policy decides how a batch meets rows already in the warehouse.
type Policy string

const (
	// PolicyAppend writes only rows whose (city, timestamp) key is not
	// already stored. Additive and idempotent.
	PolicyAppend Policy = "append"

	// PolicyOverwrite treats the batch's window as authoritative: the
	// city's prior rows inside the window are replaced atomically.
	PolicyOverwrite Policy = "overwrite"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyAppend, PolicyOverwrite:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown conflict policy %q (want append or overwrite)", s)
}

// CommitError means a warehouse write or reconciliation query failed.
// Progress is not advanced, so the next run retries the same window.
type CommitError struct {
	City string
	Err  error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s: %v", e.City, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// Outcome reports what a commit did.
type Outcome struct {
	City      string
	Policy    Policy
	Committed int
	Skipped   int  // rows dropped because their key already existed
	NoOp      bool // nothing to write, not an error
}

// Engine is the reconciliation and commit stage. It owns the
// (city, timestamp) uniqueness invariant and the progress-after-durable-
// write ordering.
type Engine struct {
	wh       warehouse.Warehouse
	progress *progress.Store
}

func NewEngine(wh warehouse.Warehouse, progress *progress.Store) *Engine {
	return &Engine{wh: wh, progress: progress}
}

// Commit writes a batch under the given policy and, on success, advances
// the city's progress to the batch's last local date. Running Commit
// twice with the same batch is idempotent under either policy.
func (e *Engine) Commit(ctx context.Context, batch models.Batch, policy Policy) (Outcome, error) {
	outcome := Outcome{City: batch.City, Policy: policy}
	if batch.Empty() {
		outcome.NoOp = true
		return outcome, nil
	}

	switch policy {
	case PolicyAppend:
		existing, err := e.wh.QueryExistingKeys(ctx, batch.City, batch.Start(), batch.End())
		if err != nil {
			return outcome, &CommitError{City: batch.City, Err: fmt.Errorf("query existing keys: %w", err)}
		}

		remainder := make([]models.Measurement, 0, len(batch.Records))
		for _, m := range batch.Records {
			if _, ok := existing[m.Timestamp.Unix()]; ok {
				continue
			}
			remainder = append(remainder, m)
		}
		outcome.Skipped = len(batch.Records) - len(remainder)
		metrics.RecordsSkipped.WithLabelValues(batch.City).Add(float64(outcome.Skipped))

		if len(remainder) == 0 {
			log.Printf("engine: %s: all %d records already stored", batch.City, len(batch.Records))
			outcome.NoOp = true
		} else if err := e.wh.LoadAppend(ctx, remainder); err != nil {
			return outcome, &CommitError{City: batch.City, Err: err}
		} else {
			outcome.Committed = len(remainder)
		}

	case PolicyOverwrite:
		if err := e.wh.LoadOverwriteWindow(ctx, batch.City, batch.Start(), batch.End(), batch.Records); err != nil {
			return outcome, &CommitError{City: batch.City, Err: err}
		}
		outcome.Committed = len(batch.Records)

	default:
		return outcome, &CommitError{City: batch.City, Err: fmt.Errorf("unknown policy %q", policy)}
	}

	metrics.RecordsCommitted.WithLabelValues(batch.City, string(policy)).Add(float64(outcome.Committed))

	// Progress moves only after the warehouse write is durable. A failure
	// here just re-fetches a window the dedup logic absorbs, so it is
	// logged rather than failing the run.
	end := batch.End()
	lastDate := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	if err := e.progress.SetLastDate(batch.City, lastDate); err != nil {
		log.Printf("engine: %s: update progress: %v", batch.City, err)
	}

	return outcome, nil
}
