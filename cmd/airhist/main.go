package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	_ "modernc.org/sqlite"

	"github.com/airhist/airhist/internal/api"
	"github.com/airhist/airhist/internal/config"
	"github.com/airhist/airhist/internal/geocode"
	"github.com/airhist/airhist/internal/ingest"
	"github.com/airhist/airhist/internal/progress"
	"github.com/airhist/airhist/internal/provider"
	"github.com/airhist/airhist/internal/warehouse"
)

type cli struct {
	DB     string `default:"data/airhist.db" help:"Path to the SQLite database."`
	Cities string `default:"config/cities.yml" help:"Path to the city list YAML file."`
	APIKey string `env:"OPENWEATHERMAP_API_KEY" required:"" help:"OpenWeatherMap API key."`

	Ingest ingestCmd `cmd:"" help:"Fetch pollution history for each configured city and exit."`
	Serve  serveCmd  `cmd:"" help:"Serve the dashboard API and ingest on an interval."`
}

type ingestCmd struct {
	Policy string   `default:"append" enum:"append,overwrite" help:"Commit policy: append skips existing hours, overwrite replaces the window."`
	Start  string   `help:"Explicit window start (YYYY-MM-DD or RFC 3339). Both --start and --end are required together."`
	End    string   `help:"Explicit window end (YYYY-MM-DD or RFC 3339)."`
	City   []string `help:"Limit the run to these cities (must appear in the city list)."`
}

type serveCmd struct {
	Port     string        `default:"8080" help:"HTTP listen port."`
	Interval time.Duration `default:"6h" help:"Time between ingestion passes."`
	Policy   string        `default:"append" enum:"append,overwrite" help:"Commit policy for scheduled passes."`
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("airhist"),
		kong.Description("Incremental air pollution history collector."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)
	kctx.FatalIfErrorf(kctx.Run(&c))
}

type app struct {
	db        *sql.DB
	store     *warehouse.Store
	collector *ingest.Collector
	cities    []string
}

func setup(c *cli) (*app, error) {
	cities, err := config.LoadCities(c.Cities)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", c.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	store := warehouse.New(db)
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Println("database migrated")

	tz, err := geocode.NewTzfLookup()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init timezone lookup: %w", err)
	}
	resolver := geocode.NewResolver(geocode.NewNominatimClient(), tz)
	client := provider.NewClient(c.APIKey)
	prog := progress.New(db)
	engine := ingest.NewEngine(store, prog)
	collector := ingest.NewCollector(resolver, client, engine, store, prog)

	return &app{db: db, store: store, collector: collector, cities: cities}, nil
}

func (a *app) Close() { a.db.Close() }

func (cmd *ingestCmd) Run(c *cli) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.Close()

	policy, err := ingest.ParsePolicy(cmd.Policy)
	if err != nil {
		return err
	}

	opts := ingest.Options{Cities: a.cities, Policy: policy}
	if len(cmd.City) > 0 {
		opts.Cities, err = selectCities(a.cities, cmd.City)
		if err != nil {
			return err
		}
	}
	opts.Start, opts.End, err = parseWindow(cmd.Start, cmd.End)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	summary := a.collector.Run(ctx, opts)
	succeeded, noops, failed := summary.Counts()
	log.Printf("run complete: %d committed, %d up to date, %d failed", succeeded, noops, failed)
	if err := summary.Err(); err != nil {
		log.Printf("failures:\n%v", err)
		os.Exit(1)
	}
	return nil
}

func (cmd *serveCmd) Run(c *cli) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	policy, err := ingest.ParsePolicy(cmd.Policy)
	if err != nil {
		return err
	}

	opts := ingest.Options{Cities: a.cities, Policy: policy}
	go func() {
		ticker := time.NewTicker(cmd.Interval)
		defer ticker.Stop()
		for {
			summary := a.collector.Run(ctx, opts)
			if err := summary.Err(); err != nil {
				log.Printf("scheduled run had failures:\n%v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	server := api.NewServer(a.store, cmd.Port)
	log.Printf("starting server on :%s", cmd.Port)
	return server.Run(ctx)
}

// selectCities keeps the configured order while restricting the run to the
// requested subset.
func selectCities(configured, requested []string) ([]string, error) {
	known := make(map[string]bool, len(configured))
	for _, name := range configured {
		known[name] = true
	}
	for _, name := range requested {
		if !known[name] {
			return nil, fmt.Errorf("city %q is not in the configured list", name)
		}
	}
	want := make(map[string]bool, len(requested))
	for _, name := range requested {
		want[name] = true
	}
	var out []string
	for _, name := range configured {
		if want[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

func parseWindow(startStr, endStr string) (*time.Time, *time.Time, error) {
	if startStr == "" && endStr == "" {
		return nil, nil, nil
	}
	if startStr == "" || endStr == "" {
		return nil, nil, fmt.Errorf("--start and --end must be given together")
	}
	start, err := parseTime(startStr)
	if err != nil {
		return nil, nil, fmt.Errorf("parse --start: %w", err)
	}
	end, err := parseTime(endStr)
	if err != nil {
		return nil, nil, fmt.Errorf("parse --end: %w", err)
	}
	if !start.Before(end) {
		return nil, nil, fmt.Errorf("--start must be before --end")
	}
	return &start, &end, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
