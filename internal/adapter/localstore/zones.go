package localstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	"github.com/paulmach/orb/geojson"
)

// ZoneLoader reads zone boundaries from GeoJSON files laid out as
// <dir>/<state>/<district>/<block>.geojson. A non-empty file overrides the
// layout and is used for every request.
type ZoneLoader struct {
	dir  string
	file string
}

func NewZoneLoader(dir, file string) *ZoneLoader {
	return &ZoneLoader{dir: dir, file: file}
}

// Path returns the file the zones of req are read from.
func (l *ZoneLoader) Path(req domain.RunRequest) string {
	if l.file != "" {
		return l.file
	}
	folder := filepath.FromSlash(domain.AssetDir(req.State, req.District))
	return filepath.Join(l.dir, folder, domain.SanitizeName(req.Block)+".geojson")
}

func (l *ZoneLoader) LoadZones(_ context.Context, req domain.RunRequest) ([]domain.Zone, error) {
	path := l.Path(req)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zones: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode zones %s: %w", path, err)
	}
	zones, err := domain.ZonesFromFeatureCollection(fc)
	if err != nil {
		return nil, fmt.Errorf("zones %s: %w", path, err)
	}
	return zones, nil
}
