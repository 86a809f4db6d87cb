// Package provider fetches raw air-pollution history from OpenWeatherMap.
package provider

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/airhist/airhist/internal/httputil"
	"github.com/airhist/airhist/internal/metrics"
)

const historyBaseURL = "http://api.openweathermap.org/data/2.5/air_pollution/history"

// FetchError means the provider call failed or returned a malformed
// payload. Fatal for the city's current run iteration only.
type FetchError struct {
	Status int // HTTP status, 0 for transport or parse failures
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch pollution history: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("fetch pollution history: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Item is one raw measurement as returned by the feed: a UTC instant,
// the ordinal AQI, and whichever pollutant concentrations were present.
// Values pass through verbatim in the provider's units (µg/m³).
type Item struct {
	At   time.Time // UTC
	AQI  sql.NullInt64
	CO   sql.NullFloat64
	NO   sql.NullFloat64
	NO2  sql.NullFloat64
	O3   sql.NullFloat64
	SO2  sql.NullFloat64
	PM25 sql.NullFloat64
	PM10 sql.NullFloat64
	NH3  sql.NullFloat64
}

// Client calls the air_pollution/history endpoint. No retry policy of its
// own beyond transient-status backoff at the transport level; orchestration
// retries happen across scheduled runs.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: historyBaseURL,
		client:  httputil.NewHistoryClient(),
	}
}

// NewClientWithBase is used by tests to point at a fake server.
func NewClientWithBase(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = baseURL
	return c
}

type historyResponse struct {
	List *[]historyItem `json:"list"`
}

type historyItem struct {
	Dt   *int64 `json:"dt"`
	Main *struct {
		AQI *int64 `json:"aqi"`
	} `json:"main"`
	Components map[string]*float64 `json:"components"`
}

// FetchHistory returns the raw measurement list for a point and UTC
// window. The list is unordered and may be empty.
func (c *Client) FetchHistory(ctx context.Context, city string, lat, lon float64, start, end time.Time) ([]Item, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("start", strconv.FormatInt(start.UTC().Unix(), 10))
	q.Set("end", strconv.FormatInt(end.UTC().Unix(), 10))
	q.Set("appid", c.apiKey)
	reqURL := c.baseURL + "?" + q.Encode()

	began := time.Now()
	var body []byte
	var lastStatus int
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("fetch history: %w", err))
		}
		defer resp.Body.Close()
		lastStatus = resp.StatusCode

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("fetch history: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("fetch history: status %d: %s", resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		metrics.ProviderAPICalls.WithLabelValues(city, "error").Inc()
		return nil, &FetchError{Status: lastStatus, Err: err}
	}
	metrics.ProviderAPICalls.WithLabelValues(city, "ok").Inc()
	metrics.ProviderAPILatency.WithLabelValues(city).Observe(time.Since(began).Seconds())

	items, err := parseHistory(body)
	if err != nil {
		return nil, &FetchError{Status: lastStatus, Err: err}
	}
	return items, nil
}

// parseHistory decodes the feed payload. A missing list, dt, index or
// components object is a malformed payload; a missing individual pollutant
// key maps to null, the schema allows it.
func parseHistory(body []byte) ([]Item, error) {
	var data historyResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if data.List == nil {
		return nil, fmt.Errorf("malformed payload: missing list field")
	}

	items := make([]Item, 0, len(*data.List))
	for i, raw := range *data.List {
		if raw.Dt == nil {
			return nil, fmt.Errorf("malformed payload: item %d missing dt", i)
		}
		if raw.Main == nil || raw.Main.AQI == nil {
			return nil, fmt.Errorf("malformed payload: item %d missing main.aqi", i)
		}
		if raw.Components == nil {
			return nil, fmt.Errorf("malformed payload: item %d missing components", i)
		}

		item := Item{
			At:  time.Unix(*raw.Dt, 0).UTC(),
			AQI: sql.NullInt64{Int64: *raw.Main.AQI, Valid: true},
		}
		item.CO = component(raw.Components, "co")
		item.NO = component(raw.Components, "no")
		item.NO2 = component(raw.Components, "no2")
		item.O3 = component(raw.Components, "o3")
		item.SO2 = component(raw.Components, "so2")
		item.PM25 = component(raw.Components, "pm2_5")
		item.PM10 = component(raw.Components, "pm10")
		item.NH3 = component(raw.Components, "nh3")
		items = append(items, item)
	}
	return items, nil
}

func component(m map[string]*float64, key string) sql.NullFloat64 {
	if v, ok := m[key]; ok && v != nil {
		return sql.NullFloat64{Float64: *v, Valid: true}
	}
	return sql.NullFloat64{}
}
