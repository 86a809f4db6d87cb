// Package series turns raw provider items into a complete hourly batch.
package series

import (
	"time"

	"github.com/airhist/airhist/internal/models"
	"github.com/airhist/airhist/internal/provider"
)

// Normalize converts raw items into a gap-filled hourly series in the
// city's timezone. Every hour between the earliest and latest realized
// instant appears exactly once; hours the provider skipped carry all-null
// measurements. The grid is stepped on the absolute timeline and only
// rendered into local labels, so a DST spring-forward hour is never
// materialized and a fall-back hour is not double counted.
//
// Pure function: the input slice is not modified.
func Normalize(city string, items []provider.Item, loc *time.Location) models.Batch {
	batch := models.Batch{City: city}
	if len(items) == 0 {
		return batch
	}

	// Realized values keyed by hour-truncated absolute time. When the feed
	// repeats an hour the later item wins.
	realized := make(map[int64]provider.Item, len(items))
	var minAt, maxAt time.Time
	for _, item := range items {
		at := item.At.Truncate(time.Hour)
		realized[at.Unix()] = item
		if minAt.IsZero() || at.Before(minAt) {
			minAt = at
		}
		if maxAt.IsZero() || at.After(maxAt) {
			maxAt = at
		}
	}

	hours := int(maxAt.Sub(minAt)/time.Hour) + 1
	batch.Records = make([]models.Measurement, 0, hours)
	for at := minAt; !at.After(maxAt); at = at.Add(time.Hour) {
		rec := models.Measurement{
			City:      city,
			Timestamp: at.In(loc),
		}
		if item, ok := realized[at.Unix()]; ok {
			rec.AQI = item.AQI
			rec.CO = item.CO
			rec.NO = item.NO
			rec.NO2 = item.NO2
			rec.O3 = item.O3
			rec.SO2 = item.SO2
			rec.PM25 = item.PM25
			rec.PM10 = item.PM10
			rec.NH3 = item.NH3
		}
		batch.Records = append(batch.Records, rec)
	}
	return batch
}
