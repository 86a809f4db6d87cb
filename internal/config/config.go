package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CitiesFile mirrors config/cities.yml:
//
//	cities:
//	  - name: Paris
//	  - name: London
type CitiesFile struct {
	Cities []CityEntry `yaml:"cities"`
}

type CityEntry struct {
	Name string `yaml:"name"`
}

// LoadCities reads the city list from a YAML file, preserving order.
func LoadCities(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cities file: %w", err)
	}

	var f CitiesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse cities file: %w", err)
	}
	if len(f.Cities) == 0 {
		return nil, fmt.Errorf("cities file %s lists no cities", path)
	}

	names := make([]string, 0, len(f.Cities))
	seen := make(map[string]bool)
	for i, c := range f.Cities {
		if c.Name == "" {
			return nil, fmt.Errorf("cities file %s: entry %d has no name", path, i)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("cities file %s: duplicate city %q", path, c.Name)
		}
		seen[c.Name] = true
		names = append(names, c.Name)
	}
	return names, nil
}
