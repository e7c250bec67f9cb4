package zonefeed

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/urbanserve/dispatch-core/internal/config"
)

type fakeInvalidator struct {
	mu     sync.Mutex
	cities []string
}

func (f *fakeInvalidator) Invalidate(city string) {
	f.mu.Lock()
	f.cities = append(f.cities, city)
	f.mu.Unlock()
}

func newRunnerForTest(inv Invalidator) *Runner {
	return New(config.ZoneFeedCfg{Enabled: true, Topic: "zone-updates"}, inv, nil)
}

func mustMarshal(t *testing.T, ev WireEvent) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestHandleMessage_InvalidatesCity(t *testing.T) {
	inv := &fakeInvalidator{}
	r := newRunnerForTest(inv)

	r.handleMessage(mustMarshal(t, WireEvent{City: "bengaluru", Version: 1}))
	if len(inv.cities) != 1 || inv.cities[0] != "bengaluru" {
		t.Fatalf("cities = %v want [bengaluru]", inv.cities)
	}
}

func TestHandleMessage_StaleVersionSkipped(t *testing.T) {
	inv := &fakeInvalidator{}
	r := newRunnerForTest(inv)

	r.handleMessage(mustMarshal(t, WireEvent{City: "pune", Version: 5}))
	r.handleMessage(mustMarshal(t, WireEvent{City: "pune", Version: 5}))
	r.handleMessage(mustMarshal(t, WireEvent{City: "pune", Version: 4}))
	r.handleMessage(mustMarshal(t, WireEvent{City: "pune", Version: 6}))

	if len(inv.cities) != 2 {
		t.Fatalf("invalidations = %v want exactly 2 (versions 5 and 6)", inv.cities)
	}
}

func TestHandleMessage_CityCaseFoldedForDedupe(t *testing.T) {
	inv := &fakeInvalidator{}
	r := newRunnerForTest(inv)

	r.handleMessage(mustMarshal(t, WireEvent{City: "Pune", Version: 3}))
	r.handleMessage(mustMarshal(t, WireEvent{City: "pune", Version: 3}))
	r.handleMessage(mustMarshal(t, WireEvent{City: " PUNE ", Version: 3}))

	if len(inv.cities) != 1 {
		t.Fatalf("invalidations = %v want exactly 1 across case variants", inv.cities)
	}
}

func TestCityVersions_EvictionReopensCity(t *testing.T) {
	cv := newCityVersions(1)

	if cv.stale("pune", 2) {
		t.Fatalf("first version must not be stale")
	}
	if !cv.stale("pune", 2) {
		t.Fatalf("repeat version must be stale")
	}
	// a second city evicts the first at capacity 1; the evicted city's
	// next event applies again rather than being dropped
	if cv.stale("delhi", 1) {
		t.Fatalf("unseen city must not be stale")
	}
	if cv.stale("pune", 2) {
		t.Fatalf("evicted city must be treated as fresh again")
	}
}

func TestHandleMessage_MalformedSkipped(t *testing.T) {
	inv := &fakeInvalidator{}
	r := newRunnerForTest(inv)

	r.handleMessage([]byte(`{broken`))
	r.handleMessage(mustMarshal(t, WireEvent{Version: 1})) // missing city

	if len(inv.cities) != 0 {
		t.Fatalf("malformed events must not invalidate, got %v", inv.cities)
	}
}

func TestReadiness(t *testing.T) {
	r := New(config.ZoneFeedCfg{Enabled: false}, nil, nil)
	if ok, _ := r.Readiness(); !ok {
		t.Fatalf("disabled feed must report ready")
	}

	r = newRunnerForTest(&fakeInvalidator{})
	if ok, _ := r.Readiness(); ok {
		t.Fatalf("unassigned enabled feed must report not ready")
	}
	r.assigned.Store(true)
	if ok, _ := r.Readiness(); !ok {
		t.Fatalf("assigned feed must report ready")
	}
}
