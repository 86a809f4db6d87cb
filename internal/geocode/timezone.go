package geocode

import (
	"fmt"

	"github.com/ringsaturn/tzf"
)

// TzfLookup resolves timezones from an embedded shape index, no network
// call involved.
type TzfLookup struct {
	finder tzf.F
}

func NewTzfLookup() (*TzfLookup, error) {
	finder, err := tzf.NewDefaultFinder()
	if err != nil {
		return nil, fmt.Errorf("init timezone finder: %w", err)
	}
	return &TzfLookup{finder: finder}, nil
}

func (l *TzfLookup) Lookup(lat, lon float64) string {
	return l.finder.GetTimezoneName(lon, lat)
}
