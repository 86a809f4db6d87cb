package ingest

import (
	"database/sql"
	"math"

	"github.com/airhist/airhist/internal/models"
)

const (
	FlagAQIOutOfRange    = "aqi_out_of_range"
	FlagNegativeValue    = "concentration_negative"
	FlagNonFiniteValue   = "concentration_not_finite"
)

// ValidateMeasurement flags suspect values. The provider is authoritative
// so flagged records are stored anyway; flags feed logs and metrics.
func ValidateMeasurement(m models.Measurement) []string {
	var flags []string

	if m.AQI.Valid && (m.AQI.Int64 < 1 || m.AQI.Int64 > 5) {
		flags = append(flags, FlagAQIOutOfRange)
	}

	var negative, nonFinite bool
	for _, v := range []sql.NullFloat64{m.CO, m.NO, m.NO2, m.O3, m.SO2, m.PM25, m.PM10, m.NH3} {
		if !v.Valid {
			continue
		}
		if math.IsNaN(v.Float64) || math.IsInf(v.Float64, 0) {
			nonFinite = true
		} else if v.Float64 < 0 {
			negative = true
		}
	}
	if negative {
		flags = append(flags, FlagNegativeValue)
	}
	if nonFinite {
		flags = append(flags, FlagNonFiniteValue)
	}

	return flags
}
