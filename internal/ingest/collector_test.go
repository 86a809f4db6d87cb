package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/airhist/airhist/internal/geocode"
	"github.com/airhist/airhist/internal/models"
	"github.com/airhist/airhist/internal/progress"
	"github.com/airhist/airhist/internal/provider"
	"github.com/airhist/airhist/internal/warehouse"
)

type fakeGeocoder struct {
	calls  int
	failed map[string]bool
}

func (g *fakeGeocoder) Geocode(ctx context.Context, name string) (float64, float64, error) {
	g.calls++
	if g.failed[name] {
		return 0, 0, fmt.Errorf("no match for %q", name)
	}
	return 48.85, 2.35, nil
}

type utcTZ struct{}

func (utcTZ) Lookup(lat, lon float64) string { return "UTC" }

// gappyHistory has items at hour 0 and hour 2, so normalization yields a
// three-row grid with a null middle hour.
const gappyHistory = `{"list": [
	{"dt": 1700000000, "main": {"aqi": 2}, "components": {"co": 200, "no": 0, "no2": 5, "o3": 60, "so2": 1, "pm2_5": 8, "pm10": 12, "nh3": 0.5}},
	{"dt": 1700007200, "main": {"aqi": 3}, "components": {"co": 190, "no": 0.1, "no2": 4, "o3": 62, "so2": 1.1, "pm2_5": 7, "pm10": 11, "nh3": 0.4}}
]}`

func setupCollector(t *testing.T, handler http.HandlerFunc, gc *fakeGeocoder) (*Collector, *warehouse.Store, *progress.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	wh := warehouse.New(db)
	if err := wh.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	prog := progress.New(db)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	resolver := geocode.NewResolver(gc, utcTZ{})
	client := provider.NewClientWithBase("test-key", srv.URL)
	collector := NewCollector(resolver, client, NewEngine(wh, prog), wh, prog)
	collector.SetDelay(0)
	return collector, wh, prog
}

func TestRun_CommitsAndRecordsProgress(t *testing.T) {
	gc := &fakeGeocoder{}
	collector, wh, prog := setupCollector(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(gappyHistory))
	}, gc)

	summary := collector.Run(context.Background(), Options{
		Cities: []string{"Paris"},
		Policy: PolicyAppend,
	})

	succeeded, noops, failed := summary.Counts()
	if succeeded != 1 || noops != 0 || failed != 0 {
		t.Fatalf("counts = %d/%d/%d, want 1/0/0", succeeded, noops, failed)
	}
	if err := summary.Err(); err != nil {
		t.Fatalf("summary.Err: %v", err)
	}

	rows, err := wh.AllMeasurements(context.Background())
	if err != nil {
		t.Fatalf("AllMeasurements: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("row count = %d, want 3 (gap-filled grid)", len(rows))
	}
	if rows[1].AQI.Valid {
		t.Errorf("gap hour AQI = %+v, want null", rows[1].AQI)
	}

	if _, ok, err := prog.GetLastDate("Paris"); err != nil || !ok {
		t.Errorf("progress not recorded (ok=%v, err=%v)", ok, err)
	}

	runs, err := wh.RecentIngestRuns(10)
	if err != nil {
		t.Fatalf("RecentIngestRuns: %v", err)
	}
	if len(runs) != 1 || !runs[0].Success {
		t.Errorf("runs = %+v, want one successful run", runs)
	}
	if runs[0].RecordsParsed.Int64 != 2 || runs[0].RecordsCommitted.Int64 != 3 {
		t.Errorf("parsed/committed = %d/%d, want 2/3",
			runs[0].RecordsParsed.Int64, runs[0].RecordsCommitted.Int64)
	}
}

func TestRun_FailureIsolation(t *testing.T) {
	gc := &fakeGeocoder{failed: map[string]bool{"Atlantis": true}}
	collector, wh, _ := setupCollector(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(gappyHistory))
	}, gc)

	summary := collector.Run(context.Background(), Options{
		Cities: []string{"Atlantis", "Paris"},
		Policy: PolicyAppend,
	})

	succeeded, _, failed := summary.Counts()
	if succeeded != 1 || failed != 1 {
		t.Fatalf("succeeded/failed = %d/%d, want 1/1", succeeded, failed)
	}
	if summary.Err() == nil {
		t.Error("summary.Err = nil, want aggregated failure")
	}

	// The failing city did not block the next one.
	rows, err := wh.Measurements(context.Background(),
		"Paris", time.Unix(1700000000, 0), time.Unix(1700007200, 0))
	if err != nil {
		t.Fatalf("Measurements: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("Paris rows = %d, want 3", len(rows))
	}

	// The failed run is recorded with its error.
	runs, err := wh.RecentIngestRuns(10)
	if err != nil {
		t.Fatalf("RecentIngestRuns: %v", err)
	}
	var atlantis *warehouse.IngestRun
	for i := range runs {
		if runs[i].City == "Atlantis" {
			atlantis = &runs[i]
		}
	}
	if atlantis == nil {
		t.Fatal("no run record for Atlantis")
	}
	if atlantis.Success || !atlantis.ErrorMessage.Valid {
		t.Errorf("Atlantis run = %+v, want failed with message", atlantis)
	}
}

func TestRun_EmptyWindowIsNoOp(t *testing.T) {
	gc := &fakeGeocoder{}
	collector, _, prog := setupCollector(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"list": []}`))
	}, gc)

	summary := collector.Run(context.Background(), Options{
		Cities: []string{"Paris"},
		Policy: PolicyAppend,
	})

	succeeded, noops, failed := summary.Counts()
	if succeeded != 0 || noops != 1 || failed != 0 {
		t.Fatalf("counts = %d/%d/%d, want 0/1/0", succeeded, noops, failed)
	}
	if summary.Err() != nil {
		t.Errorf("empty window reported as error: %v", summary.Err())
	}

	// No data means no progress: next run retries the same window.
	if _, ok, err := prog.GetLastDate("Paris"); err != nil {
		t.Fatal(err)
	} else if ok {
		t.Error("progress advanced on empty result")
	}
}

func TestRun_UsesCachedResolution(t *testing.T) {
	gc := &fakeGeocoder{}
	collector, wh, _ := setupCollector(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(gappyHistory))
	}, gc)

	if err := wh.UpsertCity(models.City{
		Name: "Paris", Latitude: 48.85, Longitude: 2.35,
		Timezone: "UTC", ResolvedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("UpsertCity: %v", err)
	}

	collector.Run(context.Background(), Options{
		Cities: []string{"Paris"},
		Policy: PolicyAppend,
	})

	if gc.calls != 0 {
		t.Errorf("geocoder calls = %d, want 0 for cached city", gc.calls)
	}
}

func TestRun_ExplicitWindowPassedToProvider(t *testing.T) {
	var gotStart, gotEnd string
	gc := &fakeGeocoder{}
	collector, _, _ := setupCollector(t, func(w http.ResponseWriter, r *http.Request) {
		gotStart = r.URL.Query().Get("start")
		gotEnd = r.URL.Query().Get("end")
		w.Write([]byte(`{"list": []}`))
	}, gc)

	start := time.Unix(1700000000, 0).UTC()
	end := time.Unix(1700086400, 0).UTC()
	collector.Run(context.Background(), Options{
		Cities: []string{"Paris"},
		Policy: PolicyAppend,
		Start:  &start,
		End:    &end,
	})

	if gotStart != "1700000000" || gotEnd != "1700086400" {
		t.Errorf("provider window = [%s, %s], want [1700000000, 1700086400]", gotStart, gotEnd)
	}
}

func TestRun_CancelledBetweenCities(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gc := &fakeGeocoder{}
	fetches := 0
	// Cancel while the first city is in flight; the loop must stop at the
	// next inter-city boundary instead of starting London or Berlin.
	collector, _, _ := setupCollector(t, func(w http.ResponseWriter, r *http.Request) {
		fetches++
		cancel()
		w.Write([]byte(`{"list": []}`))
	}, gc)
	collector.SetDelay(time.Millisecond)

	summary := collector.Run(ctx, Options{
		Cities: []string{"Paris", "London", "Berlin"},
		Policy: PolicyAppend,
	})

	if fetches != 1 {
		t.Errorf("fetches = %d, want 1", fetches)
	}
	if len(summary.Results) != 1 {
		t.Errorf("results = %d, want 1 (loop stopped after cancel)", len(summary.Results))
	}
}
