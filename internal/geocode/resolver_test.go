package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubGeocoder struct {
	lat, lon float64
	err      error
}

func (s stubGeocoder) Geocode(ctx context.Context, name string) (float64, float64, error) {
	return s.lat, s.lon, s.err
}

type stubTZ struct {
	zone string
}

func (s stubTZ) Lookup(lat, lon float64) string { return s.zone }

func TestResolve(t *testing.T) {
	r := NewResolver(stubGeocoder{lat: 48.8566, lon: 2.3522}, stubTZ{zone: "Europe/Paris"})

	city, err := r.Resolve(context.Background(), "Paris")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if city.Name != "Paris" {
		t.Errorf("Name = %q, want Paris", city.Name)
	}
	if city.Latitude != 48.8566 || city.Longitude != 2.3522 {
		t.Errorf("coords = (%v, %v), want (48.8566, 2.3522)", city.Latitude, city.Longitude)
	}
	if city.Timezone != "Europe/Paris" {
		t.Errorf("Timezone = %q, want Europe/Paris", city.Timezone)
	}
}

func TestResolve_TimezoneFallsBackToUTC(t *testing.T) {
	r := NewResolver(stubGeocoder{lat: 0, lon: -30}, stubTZ{zone: ""})

	city, err := r.Resolve(context.Background(), "Mid-Atlantic")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if city.Timezone != "UTC" {
		t.Errorf("Timezone = %q, want UTC fallback", city.Timezone)
	}
}

func TestResolve_GeocodeFailure(t *testing.T) {
	r := NewResolver(stubGeocoder{err: errors.New("not found")}, stubTZ{zone: "UTC"})

	_, err := r.Resolve(context.Background(), "Atlantis")
	if err == nil {
		t.Fatal("expected error")
	}
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("error type = %T, want *ResolutionError", err)
	}
	if resErr.City != "Atlantis" {
		t.Errorf("City = %q, want Atlantis", resErr.City)
	}
}

func TestNominatimGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "Paris" {
			t.Errorf("q = %q, want Paris", got)
		}
		if got := r.Header.Get("User-Agent"); got == "" {
			t.Error("missing User-Agent header")
		}
		w.Write([]byte(`[{"lat": "48.8566", "lon": "2.3522", "display_name": "Paris, France"}]`))
	}))
	defer srv.Close()

	c := NewNominatimClientWithBase(srv.URL)
	lat, lon, err := c.Geocode(context.Background(), "Paris")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if lat != 48.8566 || lon != 2.3522 {
		t.Errorf("coords = (%v, %v), want (48.8566, 2.3522)", lat, lon)
	}
}

func TestNominatimGeocode_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewNominatimClientWithBase(srv.URL)
	if _, _, err := c.Geocode(context.Background(), "Nowhereville"); err == nil {
		t.Fatal("expected error for empty result")
	}
}

func TestNominatimGeocode_ClientError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewNominatimClientWithBase(srv.URL)
	if _, _, err := c.Geocode(context.Background(), "Paris"); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (client errors are not retried)", calls)
	}
}

func TestNominatimGeocode_RetriesServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"lat": "51.5074", "lon": "-0.1278", "display_name": "London"}]`))
	}))
	defer srv.Close()

	c := NewNominatimClientWithBase(srv.URL)
	lat, _, err := c.Geocode(context.Background(), "London")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if lat != 51.5074 {
		t.Errorf("lat = %v, want 51.5074", lat)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}
