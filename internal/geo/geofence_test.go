package geo

import "testing"

func square(x0, y0, x1, y1 float64) Ring {
	return Ring{
		{Lat: y0, Lng: x0},
		{Lat: y1, Lng: x0},
		{Lat: y1, Lng: x1},
		{Lat: y0, Lng: x1},
	}
}

func TestContains_SimpleSquare(t *testing.T) {
	sq := square(0, 0, 10, 10)

	if !sq.Contains(Point{Lat: 5, Lng: 5}) {
		t.Fatalf("(5,5) must be inside the 10x10 square")
	}
	if sq.Contains(Point{Lat: 15, Lng: 15}) {
		t.Fatalf("(15,15) must be outside the 10x10 square")
	}
}

func TestContains_VertexDoesNotPanic(t *testing.T) {
	sq := square(0, 0, 10, 10)
	// boundary classification is ambiguous for ray casting; either answer
	// is acceptable, but the call must not panic
	_ = sq.Contains(Point{Lat: 0, Lng: 0})
	_ = sq.Contains(Point{Lat: 0, Lng: 5})
}

func TestContains_ClosedRingEquivalent(t *testing.T) {
	open := square(0, 0, 10, 10)
	closed := append(append(Ring{}, open...), open[0])

	pts := []Point{
		{Lat: 5, Lng: 5},
		{Lat: 15, Lng: 15},
		{Lat: -1, Lng: 5},
		{Lat: 9.99, Lng: 9.99},
	}
	for _, p := range pts {
		if open.Contains(p) != closed.Contains(p) {
			t.Fatalf("open/closed ring disagree for %+v", p)
		}
	}
}

func TestContains_DegenerateRing(t *testing.T) {
	two := Ring{{Lat: 0, Lng: 0}, {Lat: 10, Lng: 10}}
	if two.Contains(Point{Lat: 5, Lng: 5}) {
		t.Fatalf("a 2-point ring must never contain anything")
	}
	if (Ring{}).Contains(Point{}) {
		t.Fatalf("an empty ring must never contain anything")
	}
}

func TestContains_Concave(t *testing.T) {
	// L-shape: the notch (7,7) is outside, the foot (2,2) inside
	l := Ring{
		{Lat: 0, Lng: 0},
		{Lat: 10, Lng: 0},
		{Lat: 10, Lng: 5},
		{Lat: 5, Lng: 5},
		{Lat: 5, Lng: 10},
		{Lat: 0, Lng: 10},
	}
	if !l.Contains(Point{Lat: 2, Lng: 2}) {
		t.Fatalf("(2,2) must be inside the L-shape")
	}
	if l.Contains(Point{Lat: 7, Lng: 7}) {
		t.Fatalf("(7,7) must be outside the L-shape notch")
	}
}

func TestZoneSet_UnionSemantics(t *testing.T) {
	zs := ZoneSet{Zones: []Zone{
		{Name: "north", Ring: square(0, 0, 10, 10)},
		{Name: "south", Ring: square(20, 20, 30, 30)},
	}}

	if !zs.Serviceable(Point{Lat: 25, Lng: 25}) {
		t.Fatalf("point inside the second zone must be serviceable")
	}
	name, ok := zs.Match(Point{Lat: 25, Lng: 25})
	if !ok || name != "south" {
		t.Fatalf("Match = %q,%v want south,true", name, ok)
	}
	if zs.Serviceable(Point{Lat: 15, Lng: 15}) {
		t.Fatalf("point between the zones must not be serviceable")
	}
}

func TestZoneSet_Empty(t *testing.T) {
	var zs ZoneSet
	if zs.Serviceable(Point{Lat: 5, Lng: 5}) {
		t.Fatalf("empty zone set must never be serviceable")
	}
}
