// Package geo decides whether a candidate location is serviceable, i.e.
// inside at least one of the marketplace's zone polygons.
package geo

// Point is a geographic coordinate in degrees.
type Point struct {
	Lat float64
	Lng float64
}

// Ring is an ordered sequence of vertices forming a closed polygon ring.
// The closing vertex may or may not repeat the first; the containment test
// does not require repetition.
type Ring []Point

// Zone is a named serviceable polygon.
type Zone struct {
	Name string
	Ring Ring
}

// ZoneSet is a set of named zones with union semantics: a point is
// serviceable if it lies inside at least one zone.
type ZoneSet struct {
	Zones []Zone
}

// Contains reports whether p lies inside the ring using the even-odd
// (ray casting) rule. The horizontal ray runs to the right of the point;
// each crossing edge toggles the result. Points exactly on the boundary
// may be classified either way.
//
// The test operates on x=longitude, y=latitude. Rings authored as
// (lat,lng) pairs are handled by the named Point fields, so no positional
// swap can go wrong at a call site.
//
// Rings with fewer than 3 vertices never contain anything.
func (r Ring) Contains(p Point) bool {
	if len(r) < 3 {
		return false
	}
	x, y := p.Lng, p.Lat
	inside := false
	j := len(r) - 1
	for i := range r {
		xi, yi := r[i].Lng, r[i].Lat
		xj, yj := r[j].Lng, r[j].Lat
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

// Serviceable reports whether p is inside at least one zone,
// short-circuiting at the first match. An empty set is never serviceable.
func (zs ZoneSet) Serviceable(p Point) bool {
	_, ok := zs.Match(p)
	return ok
}

// Match returns the name of the first zone containing p.
func (zs ZoneSet) Match(p Point) (string, bool) {
	for _, z := range zs.Zones {
		if z.Ring.Contains(p) {
			return z.Name, true
		}
	}
	return "", false
}
