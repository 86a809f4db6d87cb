package models

import (
	"database/sql"
	"time"
)

// City is a tracked location, resolved once per run. Coordinates and
// timezone are cached in the warehouse so later runs skip geocoding.
type City struct {
	Name       string
	Latitude   float64
	Longitude  float64
	Timezone   string // IANA zone id, "UTC" when lookup failed
	ResolvedAt time.Time
}

// Measurement is one hourly observation for a city. Identity key is
// (City, Timestamp); the warehouse table has no uniqueness constraint,
// the commit engine enforces the invariant.
type Measurement struct {
	City      string
	Timestamp time.Time // hour-aligned, carries the city's zone
	AQI       sql.NullInt64
	CO        sql.NullFloat64
	NO        sql.NullFloat64
	NO2       sql.NullFloat64
	O3        sql.NullFloat64
	SO2       sql.NullFloat64
	PM25      sql.NullFloat64
	PM10      sql.NullFloat64
	NH3       sql.NullFloat64
}

// Pollutants lists the concentration columns in schema order.
var Pollutants = []string{"co", "no", "no2", "o3", "so2", "pm2_5", "pm10", "nh3"}

// Batch is one city's gap-filled hourly series for one ingestion run.
// Records cover every hour in [Start, End] exactly once, ascending.
type Batch struct {
	City    string
	Records []Measurement
}

func (b Batch) Empty() bool {
	return len(b.Records) == 0
}

// Start returns the batch's earliest timestamp. Zero time when empty.
func (b Batch) Start() time.Time {
	if b.Empty() {
		return time.Time{}
	}
	return b.Records[0].Timestamp
}

// End returns the batch's latest timestamp. Zero time when empty.
func (b Batch) End() time.Time {
	if b.Empty() {
		return time.Time{}
	}
	return b.Records[len(b.Records)-1].Timestamp
}
