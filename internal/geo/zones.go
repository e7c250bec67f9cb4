package geo

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ParseZones decodes a zone set authored as a GeoJSON FeatureCollection.
// Polygon features contribute their outer ring; MultiPolygon features
// contribute one zone per member polygon. The zone name comes from the
// feature's "name" property, falling back to "zone-<n>".
func ParseZones(data []byte) (ZoneSet, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return ZoneSet{}, fmt.Errorf("parse zone geojson: %w", err)
	}

	var zs ZoneSet
	for i, f := range fc.Features {
		name := f.Properties.MustString("name", fmt.Sprintf("zone-%d", i))

		switch g := f.Geometry.(type) {
		case orb.Polygon:
			ring, err := toRing(g)
			if err != nil {
				return ZoneSet{}, fmt.Errorf("zone %q: %w", name, err)
			}
			zs.Zones = append(zs.Zones, Zone{Name: name, Ring: ring})
		case orb.MultiPolygon:
			for j, poly := range g {
				ring, err := toRing(poly)
				if err != nil {
					return ZoneSet{}, fmt.Errorf("zone %q part %d: %w", name, j, err)
				}
				zn := name
				if len(g) > 1 {
					zn = fmt.Sprintf("%s-%d", name, j)
				}
				zs.Zones = append(zs.Zones, Zone{Name: zn, Ring: ring})
			}
		default:
			return ZoneSet{}, fmt.Errorf("zone %q: unsupported geometry %T", name, f.Geometry)
		}
	}
	return zs, nil
}

// LoadZonesFile reads and parses a GeoJSON zone file.
func LoadZonesFile(path string) (ZoneSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ZoneSet{}, fmt.Errorf("read zone file: %w", err)
	}
	return ParseZones(data)
}

func toRing(poly orb.Polygon) (Ring, error) {
	if len(poly) == 0 {
		return nil, fmt.Errorf("polygon has no rings")
	}
	outer := poly[0]
	if len(outer) < 3 {
		return nil, fmt.Errorf("outer ring has %d vertices, need at least 3", len(outer))
	}
	ring := make(Ring, 0, len(outer))
	for _, pt := range outer {
		ring = append(ring, Point{Lat: pt.Lat(), Lng: pt.Lon()})
	}
	return ring, nil
}
