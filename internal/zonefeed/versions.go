package zonefeed

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cityVersions remembers the newest zone version applied per city so a
// replayed or reordered feed event does not invalidate the cache again.
// City names are folded the same way the zone cache folds them, so
// "Pune" and "pune" share one version stream. Bounded by an LRU: a city
// evicted here is invalidated once more on its next event, which only
// costs a reload.
type cityVersions struct {
	mu   sync.Mutex
	seen *lru.Cache[string, uint64]
}

func newCityVersions(size int) *cityVersions {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, uint64](size)
	return &cityVersions{seen: c}
}

// stale reports whether the city has already applied this version or a
// newer one. A fresh version is recorded as applied.
func (cv *cityVersions) stale(city string, version uint64) bool {
	key := strings.ToLower(strings.TrimSpace(city))

	cv.mu.Lock()
	defer cv.mu.Unlock()
	if last, ok := cv.seen.Get(key); ok && version <= last {
		return true
	}
	cv.seen.Add(key, version)
	return false
}
