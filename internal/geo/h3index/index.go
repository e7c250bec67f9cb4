// Package h3index accelerates serviceability checks with a coarse H3
// covering of each zone. Lookup maps a point to its H3 cell and only the
// zones whose covering includes that cell are handed to the exact
// containment test. The exact test always has the final word.
package h3index

import (
	"fmt"

	h3 "github.com/uber/h3-go/v4"

	"github.com/urbanserve/dispatch-core/internal/geo"
)

type Index struct {
	res    int
	zones  []geo.Zone
	byCell map[h3.Cell][]int // cell -> zone indexes
}

// New covers every zone with H3 cells at res, expanded by one grid ring so
// points near a zone edge still reach the exact test.
func New(zs geo.ZoneSet, res int) (*Index, error) {
	if res < 0 || res > 15 {
		return nil, fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}

	idx := &Index{
		res:    res,
		zones:  zs.Zones,
		byCell: make(map[h3.Cell][]int),
	}

	for i, z := range zs.Zones {
		loop := toLoop(z.Ring)
		if len(loop) < 3 {
			continue // degenerate zone, exact test would reject it anyway
		}
		cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: loop}, res)
		if err != nil {
			return nil, fmt.Errorf("cover zone %q: %w", z.Name, err)
		}
		seen := make(map[h3.Cell]struct{}, len(cells)*7)
		for _, c := range cells {
			disk, err := h3.GridDisk(c, 1)
			if err != nil {
				return nil, fmt.Errorf("expand zone %q: %w", z.Name, err)
			}
			for _, d := range disk {
				if _, ok := seen[d]; ok {
					continue
				}
				seen[d] = struct{}{}
				idx.addCell(d, i)
			}
		}
		// a small zone can fall between cell centers and produce an empty
		// covering; index the vertices' own cells so it stays reachable
		if len(cells) == 0 {
			for _, p := range z.Ring {
				c, err := h3.LatLngToCell(h3.LatLng{Lat: p.Lat, Lng: p.Lng}, res)
				if err != nil {
					return nil, fmt.Errorf("index zone %q vertex: %w", z.Name, err)
				}
				disk, err := h3.GridDisk(c, 1)
				if err != nil {
					return nil, fmt.Errorf("expand zone %q vertex: %w", z.Name, err)
				}
				for _, d := range disk {
					if _, ok := seen[d]; ok {
						continue
					}
					seen[d] = struct{}{}
					idx.addCell(d, i)
				}
			}
		}
	}
	return idx, nil
}

func (x *Index) addCell(c h3.Cell, zone int) {
	x.byCell[c] = append(x.byCell[c], zone)
}

// Candidates returns the zones whose covering includes p's cell.
func (x *Index) Candidates(p geo.Point) ([]geo.Zone, error) {
	c, err := h3.LatLngToCell(h3.LatLng{Lat: p.Lat, Lng: p.Lng}, x.res)
	if err != nil {
		return nil, fmt.Errorf("point to cell: %w", err)
	}
	ids := x.byCell[c]
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]geo.Zone, 0, len(ids))
	for _, i := range ids {
		out = append(out, x.zones[i])
	}
	return out, nil
}

// Serviceable runs the exact containment test on candidate zones only.
// If the cell lookup fails the full union scan is used instead, so the
// index can never flip a decision.
func (x *Index) Serviceable(p geo.Point) bool {
	cands, err := x.Candidates(p)
	if err != nil {
		return geo.ZoneSet{Zones: x.zones}.Serviceable(p)
	}
	for _, z := range cands {
		if z.Ring.Contains(p) {
			return true
		}
	}
	return false
}

// Match returns the first candidate zone containing p.
func (x *Index) Match(p geo.Point) (string, bool) {
	cands, err := x.Candidates(p)
	if err != nil {
		return geo.ZoneSet{Zones: x.zones}.Match(p)
	}
	for _, z := range cands {
		if z.Ring.Contains(p) {
			return z.Name, true
		}
	}
	return "", false
}

func toLoop(r geo.Ring) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(r))
	for _, p := range r {
		loop = append(loop, h3.LatLng{Lat: p.Lat, Lng: p.Lng})
	}
	// drop duplicated closing vertex if present
	if len(loop) >= 2 {
		last, first := loop[len(loop)-1], loop[0]
		if last.Lat == first.Lat && last.Lng == first.Lng {
			loop = loop[:len(loop)-1]
		}
	}
	return loop
}
