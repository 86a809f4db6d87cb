// Package geocode resolves a city name to coordinates and an IANA timezone.
package geocode

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/airhist/airhist/internal/models"
)

// ResolutionError means a city could not be resolved this run. The
// orchestrator skips the city and moves on.
type ResolutionError struct {
	City string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.City, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Geocoder turns a free-text place name into coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, name string) (lat, lon float64, err error)
}

// TimezoneLookup maps coordinates to an IANA zone id. An empty string
// means the zone is unknown for that point.
type TimezoneLookup interface {
	Lookup(lat, lon float64) string
}

// Resolver is a one-shot best-effort lookup per run; no retry beyond the
// transport level. A missing timezone is not fatal: downstream only needs
// a consistent zone, so the resolver falls back to UTC with a warning.
type Resolver struct {
	geocoder Geocoder
	tz       TimezoneLookup
}

func NewResolver(geocoder Geocoder, tz TimezoneLookup) *Resolver {
	return &Resolver{geocoder: geocoder, tz: tz}
}

func (r *Resolver) Resolve(ctx context.Context, name string) (models.City, error) {
	lat, lon, err := r.geocoder.Geocode(ctx, name)
	if err != nil {
		return models.City{}, &ResolutionError{City: name, Err: err}
	}

	zone := r.tz.Lookup(lat, lon)
	if zone == "" {
		log.Printf("geocode: no timezone for %s (%.4f, %.4f), using UTC", name, lat, lon)
		zone = "UTC"
	}

	return models.City{
		Name:       name,
		Latitude:   lat,
		Longitude:  lon,
		Timezone:   zone,
		ResolvedAt: time.Now().UTC(),
	}, nil
}
