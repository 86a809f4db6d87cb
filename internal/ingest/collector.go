package ingest

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/airhist/airhist/internal/geocode"
	"github.com/airhist/airhist/internal/metrics"
	"github.com/airhist/airhist/internal/models"
	"github.com/airhist/airhist/internal/progress"
	"github.com/airhist/airhist/internal/provider"
	"github.com/airhist/airhist/internal/series"
	"github.com/airhist/airhist/internal/warehouse"
)

const (
	// DefaultLookback is the window fetched for a city with no recorded
	// progress: one lunar month.
	DefaultLookback = 30 * 24 * time.Hour

	// DefaultDelay between cities keeps the provider's rate limiter happy.
	DefaultDelay = 2 * time.Second
)

// Collector runs the per-city pipeline: resolve, window, fetch,
// normalize, commit. Cities are processed sequentially in configured
// order; one city's failure never aborts the others.
type Collector struct {
	resolver *geocode.Resolver
	client   *provider.Client
	engine   *Engine
	store    *warehouse.Store
	progress *progress.Store
	delay    time.Duration
	lookback time.Duration
}

func NewCollector(resolver *geocode.Resolver, client *provider.Client, engine *Engine, store *warehouse.Store, prog *progress.Store) *Collector {
	return &Collector{
		resolver: resolver,
		client:   client,
		engine:   engine,
		store:    store,
		progress: prog,
		delay:    DefaultDelay,
		lookback: DefaultLookback,
	}
}

// SetDelay overrides the inter-city pause; tests set it to zero.
func (c *Collector) SetDelay(d time.Duration) { c.delay = d }

// SetLookback overrides the default window for cities with no progress.
func (c *Collector) SetLookback(d time.Duration) { c.lookback = d }

// Options parameterize one collection run.
type Options struct {
	Cities []string
	Policy Policy
	Start  *time.Time // explicit window start; overrides progress
	End    *time.Time // explicit window end; defaults to now
}

// CityResult is one city's outcome within a run.
type CityResult struct {
	City    string
	Outcome Outcome
	Err     error
}

// RunSummary reports a whole run. Partial failure is reported, not
// treated as total failure.
type RunSummary struct {
	Results []CityResult
}

func (s *RunSummary) Counts() (succeeded, noops, failed int) {
	for _, r := range s.Results {
		switch {
		case r.Err != nil:
			failed++
		case r.Outcome.NoOp:
			noops++
		default:
			succeeded++
		}
	}
	return
}

// Err aggregates per-city failures, nil when every city succeeded.
func (s *RunSummary) Err() error {
	var merr *multierror.Error
	for _, r := range s.Results {
		if r.Err != nil {
			merr = multierror.Append(merr, r.Err)
		}
	}
	return merr.ErrorOrNil()
}

// Run processes every configured city once. Only context cancellation
// stops the loop early; per-city errors are recorded and skipped past.
func (c *Collector) Run(ctx context.Context, opts Options) *RunSummary {
	summary := &RunSummary{}

	for i, name := range opts.Cities {
		if i > 0 {
			if err := sleepCtx(ctx, c.delay); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		log.Printf("collector: processing %s", name)
		outcome, err := c.runCity(ctx, name, opts)
		if err != nil {
			kind := errorKind(err)
			metrics.CityRunFailures.WithLabelValues(name, kind).Inc()
			log.Printf("collector: %s failed (%s): %v", name, kind, err)
		} else if outcome.NoOp {
			log.Printf("collector: %s: nothing to ingest", name)
		} else {
			log.Printf("collector: %s: committed %d rows (%d duplicates skipped)", name, outcome.Committed, outcome.Skipped)
		}
		summary.Results = append(summary.Results, CityResult{City: name, Outcome: outcome, Err: err})
	}

	succeeded, noops, failed := summary.Counts()
	log.Printf("collector: run complete: %d succeeded, %d no-op, %d failed", succeeded, noops, failed)
	return summary
}

func (c *Collector) runCity(ctx context.Context, name string, opts Options) (Outcome, error) {
	run, err := c.store.StartIngestRun(name, string(opts.Policy))
	if err != nil {
		log.Printf("collector: start run record for %s: %v", name, err)
	}

	outcome, runErr := c.ingestCity(ctx, name, opts, run)

	if run != nil {
		run.Success = runErr == nil
		if runErr != nil {
			run.ErrorMessage = sql.NullString{String: runErr.Error(), Valid: true}
		} else {
			run.RecordsCommitted = sql.NullInt64{Int64: int64(outcome.Committed), Valid: true}
			run.RecordsSkipped = sql.NullInt64{Int64: int64(outcome.Skipped), Valid: true}
		}
		if err := c.store.CompleteIngestRun(run); err != nil {
			log.Printf("collector: complete run record for %s: %v", name, err)
		}
	}

	return outcome, runErr
}

func (c *Collector) ingestCity(ctx context.Context, name string, opts Options, run *warehouse.IngestRun) (Outcome, error) {
	city, err := c.resolveCity(ctx, name)
	if err != nil {
		return Outcome{City: name}, err
	}

	loc, err := time.LoadLocation(city.Timezone)
	if err != nil {
		log.Printf("collector: load zone %q for %s: %v, using UTC", city.Timezone, name, err)
		loc = time.UTC
	}

	start, end := c.window(name, loc, opts)
	items, err := c.client.FetchHistory(ctx, name, city.Latitude, city.Longitude, start, end)
	if err != nil {
		return Outcome{City: name}, err
	}
	if run != nil {
		run.RecordsParsed = sql.NullInt64{Int64: int64(len(items)), Valid: true}
	}

	batch := series.Normalize(name, items, loc)
	if batch.Empty() {
		return Outcome{City: name, Policy: opts.Policy, NoOp: true}, nil
	}

	for _, m := range batch.Records {
		for _, flag := range ValidateMeasurement(m) {
			metrics.QualityFlags.WithLabelValues(name, flag).Inc()
			log.Printf("collector: %s %s: %s", name, m.Timestamp.Format(time.RFC3339), flag)
		}
	}

	return c.engine.Commit(ctx, batch, opts.Policy)
}

// resolveCity serves resolutions from the warehouse cache, geocoding only
// names never seen before.
func (c *Collector) resolveCity(ctx context.Context, name string) (models.City, error) {
	cached, err := c.store.GetCity(name)
	if err != nil {
		log.Printf("collector: read city cache for %s: %v", name, err)
	}
	if cached != nil {
		return *cached, nil
	}

	city, err := c.resolver.Resolve(ctx, name)
	if err != nil {
		return models.City{}, err
	}
	if err := c.store.UpsertCity(city); err != nil {
		log.Printf("collector: cache city %s: %v", name, err)
	}
	return city, nil
}

// window computes the fetch range: explicit bounds win, then recorded
// progress, then the default lookback. The start is the local midnight of
// the last ingested date, so the partial last day is re-fetched and
// deduped.
func (c *Collector) window(name string, loc *time.Location, opts Options) (start, end time.Time) {
	end = time.Now()
	if opts.End != nil {
		end = *opts.End
	}

	if opts.Start != nil {
		return *opts.Start, end
	}

	if last, ok, err := c.progress.GetLastDate(name); err != nil {
		log.Printf("collector: read progress for %s: %v", name, err)
	} else if ok {
		start = time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, loc)
		return start, end
	}

	return end.Add(-c.lookback), end
}

func errorKind(err error) string {
	var resErr *geocode.ResolutionError
	var fetchErr *provider.FetchError
	var commitErr *CommitError
	switch {
	case errors.As(err, &resErr):
		return "resolve"
	case errors.As(err, &fetchErr):
		return "fetch"
	case errors.As(err, &commitErr):
		return "commit"
	}
	return "other"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
