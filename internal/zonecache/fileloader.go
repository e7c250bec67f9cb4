package zonecache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urbanserve/dispatch-core/internal/geo"
)

// FileLoader reads zone sets from <dir>/<city>.geojson.
type FileLoader struct {
	Dir string
}

var _ Loader = FileLoader{}

func (l FileLoader) Load(_ context.Context, city string) (geo.ZoneSet, error) {
	name := normalize(city)
	if name == "" {
		return geo.ZoneSet{}, fmt.Errorf("empty city name")
	}
	path := filepath.Join(l.Dir, name+".geojson")
	zs, err := geo.LoadZonesFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// unknown city: no coverage, not an operational error
			return geo.ZoneSet{}, nil
		}
		return geo.ZoneSet{}, fmt.Errorf("load zones for %q: %w", city, err)
	}
	return zs, nil
}
