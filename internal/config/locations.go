package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/weathermart/internal/model"
)

// locationsFile is the on-disk shape of the tracked-locations list.
type locationsFile struct {
	Locations []model.Location `yaml:"locations"`
}

// LoadLocations reads the tracked locations from a YAML file.
func LoadLocations(path string) ([]model.Location, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read locations file %s", path)
	}

	var f locationsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrapf(err, "config: parse locations file %s", path)
	}
	if len(f.Locations) == 0 {
		return nil, eris.Errorf("config: no locations defined in %s", path)
	}

	for i, loc := range f.Locations {
		if loc.Key == "" {
			return nil, eris.Errorf("config: location %d missing key", i)
		}
		if loc.Timezone == "" {
			f.Locations[i].Timezone = "UTC"
		}
	}

	return f.Locations, nil
}
