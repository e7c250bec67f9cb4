// Package zonecache keeps parsed per-city zone coverage in a process-local
// LRU in front of the zone source, so serviceability checks do not re-read
// and re-parse GeoJSON on every request. When an H3 resolution is
// configured each entry also carries a candidate index for fast lookups.
package zonecache

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/urbanserve/dispatch-core/internal/geo"
	"github.com/urbanserve/dispatch-core/internal/geo/h3index"
	"github.com/urbanserve/dispatch-core/internal/observability"
)

// Loader resolves a city to its zone set.
type Loader interface {
	Load(ctx context.Context, city string) (geo.ZoneSet, error)
}

// Entry is a city's cached coverage.
type Entry struct {
	Set   geo.ZoneSet
	Index *h3index.Index
}

// Match returns the zone containing p, via the candidate index when present.
func (e Entry) Match(p geo.Point) (string, bool) {
	if e.Index != nil {
		return e.Index.Match(p)
	}
	return e.Set.Match(p)
}

func (e Entry) Serviceable(p geo.Point) bool {
	_, ok := e.Match(p)
	return ok
}

type Cache struct {
	loader Loader
	lru    *lru.Cache[string, Entry]
	h3res  int // < 0 disables the index
}

func New(loader Loader, size, h3res int) (*Cache, error) {
	if size <= 0 {
		size = 128
	}
	c, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("zone lru: %w", err)
	}
	return &Cache{loader: loader, lru: c, h3res: h3res}, nil
}

func (c *Cache) Get(ctx context.Context, city string) (Entry, error) {
	k := Key(city)
	if e, ok := c.lru.Get(k); ok {
		observability.IncZoneCacheHit()
		return e, nil
	}
	observability.IncZoneCacheMiss()

	zs, err := c.loader.Load(ctx, city)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Set: zs}
	if c.h3res >= 0 && len(zs.Zones) > 0 {
		idx, err := h3index.New(zs, c.h3res)
		if err != nil {
			return Entry{}, fmt.Errorf("index zones for %q: %w", city, err)
		}
		e.Index = idx
	}
	c.lru.Add(k, e)
	return e, nil
}

// Invalidate drops a city so the next lookup reloads it.
func (c *Cache) Invalidate(city string) {
	c.lru.Remove(Key(city))
}

// Key normalizes a city name into a stable cache key. Anything beyond
// plain ascii word characters is folded away and disambiguated by hash.
func Key(city string) string {
	norm := normalize(city)
	sum := xxhash.Sum64String(strings.ToLower(strings.TrimSpace(city)))
	return fmt.Sprintf("%s:%016x", norm, sum)
}

func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		out := r
		switch {
		case r == ' ' || r == '\t':
			out = '-'
		case (r >= 'a' && r <= 'z') || unicode.IsDigit(r):
		default:
			out = '-'
		}
		if out == '-' && prev == '-' {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return strings.Trim(b.String(), "-")
}
