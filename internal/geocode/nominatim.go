package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/airhist/airhist/internal/httputil"
)

const nominatimBaseURL = "https://nominatim.openstreetmap.org/search"

// Nominatim's usage policy requires an identifying User-Agent.
const userAgent = "airhist/1.0 (air pollution collector)"

// NominatimClient geocodes place names against the OpenStreetMap
// Nominatim search endpoint.
type NominatimClient struct {
	baseURL string
	client  *http.Client
}

func NewNominatimClient() *NominatimClient {
	return &NominatimClient{
		baseURL: nominatimBaseURL,
		client:  httputil.NewClient(),
	}
}

// NewNominatimClientWithBase is used by tests to point at a fake server.
func NewNominatimClientWithBase(baseURL string) *NominatimClient {
	c := NewNominatimClient()
	c.baseURL = baseURL
	return c
}

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

func (c *NominatimClient) Geocode(ctx context.Context, name string) (float64, float64, error) {
	q := url.Values{}
	q.Set("q", name)
	q.Set("format", "json")
	q.Set("limit", "1")
	reqURL := c.baseURL + "?" + q.Encode()

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.client.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("geocode: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("geocode: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("geocode: status %d: %s", resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return 0, 0, err
	}

	var results []nominatimResult
	if err := json.Unmarshal(body, &results); err != nil {
		return 0, 0, fmt.Errorf("unmarshal: %w", err)
	}
	if len(results) == 0 {
		return 0, 0, fmt.Errorf("no match for %q", name)
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse lat %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse lon %q: %w", results[0].Lon, err)
	}
	return lat, lon, nil
}
