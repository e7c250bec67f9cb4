package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/urbanserve/dispatch-core/internal/booking"
	"github.com/urbanserve/dispatch-core/internal/geo"
	"github.com/urbanserve/dispatch-core/internal/kvstore"
	"github.com/urbanserve/dispatch-core/internal/zonecache"
)

type fakeBackend struct {
	mu          sync.Mutex
	dispatchRes booking.SearchResult
	dispatchErr error
	pollRes     booking.PollResult
	pollErr     error
	dispatches  int
	cancels     []string
}

func (f *fakeBackend) Dispatch(context.Context, booking.DispatchParams) (booking.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatches++
	return f.dispatchRes, f.dispatchErr
}

func (f *fakeBackend) Poll(context.Context, string) (booking.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollRes, f.pollErr
}

func (f *fakeBackend) CancelAttempt(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, "attempt:"+id)
	return nil
}

func (f *fakeBackend) CancelBooking(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, "booking:"+id)
	return nil
}

func (f *fakeBackend) RecordWaiting(context.Context, string) error { return nil }
func (f *fakeBackend) CancelWaiting(context.Context, string) error { return nil }

type staticZones struct{ zs geo.ZoneSet }

func (l staticZones) Load(context.Context, string) (geo.ZoneSet, error) { return l.zs, nil }

func unitSquareZones() geo.ZoneSet {
	return geo.ZoneSet{Zones: []geo.Zone{{Name: "central", Ring: geo.Ring{
		{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 1, Lng: 1}, {Lat: 1, Lng: 0},
	}}}}
}

func newTestServer(t *testing.T, be booking.Backend) (*httptest.Server, *Manager) {
	t.Helper()
	zones, err := zonecache.New(staticZones{zs: unitSquareZones()}, 8, -1)
	if err != nil {
		t.Fatalf("zonecache: %v", err)
	}
	log := slog.New(slog.DiscardHandler)
	mgr := NewManager(be, kvstore.NewMemory(), nil, booking.Config{
		PollInterval: time.Hour, // tests drive polling by hand
	}, log)
	t.Cleanup(mgr.CloseAll)

	r := chi.NewRouter()
	NewHandler(zones, mgr, log).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, mgr
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, out
}

const createBody = `{
  "lat": 0.5, "lng": 0.5,
  "city": "bengaluru", "pincode": "560001",
  "contact_name": "A", "contact_phone": "999",
  "services": [{"service_id": "deep-clean", "quantity": 1, "cost": 499}]
}`

func TestServiceable(t *testing.T) {
	srv, _ := newTestServer(t, &fakeBackend{})

	resp, out := doJSON(t, http.MethodGet, srv.URL+"/serviceable?city=bengaluru&lat=0.5&lng=0.5", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if out["serviceable"] != true || out["zone"] != "central" {
		t.Fatalf("body = %v", out)
	}

	resp, out = doJSON(t, http.MethodGet, srv.URL+"/serviceable?city=bengaluru&lat=5&lng=5", "")
	if resp.StatusCode != http.StatusOK || out["serviceable"] != false {
		t.Fatalf("outside point: status = %d body = %v", resp.StatusCode, out)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/serviceable?lat=0.5&lng=0.5", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing city: status = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/serviceable?city=x&lat=91&lng=0", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("lat out of range: status = %d", resp.StatusCode)
	}
}

func TestCreateSession_WorkerFound(t *testing.T) {
	be := &fakeBackend{dispatchRes: booking.SearchResult{AttemptID: "att-1"}}
	srv, mgr := newTestServer(t, be)

	resp, out := doJSON(t, http.MethodPost, srv.URL+"/sessions", createBody)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d body = %v", resp.StatusCode, out)
	}
	if out["status"] != string(booking.StatusWaiting) || out["attempt_id"] != "att-1" {
		t.Fatalf("body = %v", out)
	}
	id, _ := out["session_id"].(string)
	if _, ok := mgr.Get(id); !ok {
		t.Fatalf("session %q not registered", id)
	}
	if sec, _ := out["seconds_remaining"].(float64); sec <= 0 || sec > 600 {
		t.Fatalf("seconds_remaining = %v", out["seconds_remaining"])
	}
}

func TestCreateSession_NoWorker(t *testing.T) {
	be := &fakeBackend{dispatchRes: booking.SearchResult{NoWorker: booking.NoWorkersInRadius}}
	srv, _ := newTestServer(t, be)

	resp, out := doJSON(t, http.MethodPost, srv.URL+"/sessions", createBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %v", resp.StatusCode, out)
	}
	if out["status"] != string(booking.StatusIdle) {
		t.Fatalf("status = %v want idle", out["status"])
	}
	if out["no_worker_reason"] != string(booking.NoWorkersInRadius) {
		t.Fatalf("no_worker_reason = %v", out["no_worker_reason"])
	}
}

func TestCreateSession_OutOfZone(t *testing.T) {
	srv, _ := newTestServer(t, &fakeBackend{})

	body := strings.Replace(createBody, `"lat": 0.5`, `"lat": 5`, 1)
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/sessions", body)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d want 422", resp.StatusCode)
	}
}

func TestCreateSession_Validation(t *testing.T) {
	srv, _ := newTestServer(t, &fakeBackend{})

	cases := []string{
		`{broken`,
		`{"lat":0.5,"lng":0.5,"services":[{"service_id":"x","quantity":1}]}`,       // no city
		`{"lat":0.5,"lng":0.5,"city":"bengaluru","services":[]}`,                   // no services
		`{"lat":0.5,"lng":0.5,"city":"bengaluru","services":[{"quantity":1}]}`,     // no service id
		`{"lat":0.5,"lng":0.5,"city":"bengaluru","services":[{"service_id":"x"}]}`, // zero quantity
	}
	for _, body := range cases {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/sessions", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d want 400", body, resp.StatusCode)
		}
	}
}

func TestCreateSession_DispatchErrorKeepsSession(t *testing.T) {
	be := &fakeBackend{dispatchErr: errors.New("backend down")}
	srv, mgr := newTestServer(t, be)

	resp, out := doJSON(t, http.MethodPost, srv.URL+"/sessions", createBody)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	id, _ := out["session_id"].(string)
	s, ok := mgr.Get(id)
	if !ok {
		t.Fatalf("failed dispatch must keep the session for later retries")
	}
	if st := s.Coord.Status(); st != booking.StatusSearching {
		t.Fatalf("status = %v want searching", st)
	}
}

func TestGetSession(t *testing.T) {
	be := &fakeBackend{dispatchRes: booking.SearchResult{AttemptID: "att-1"}}
	srv, _ := newTestServer(t, be)

	_, out := doJSON(t, http.MethodPost, srv.URL+"/sessions", createBody)
	id := out["session_id"].(string)

	resp, out := doJSON(t, http.MethodGet, srv.URL+"/sessions/"+id, "")
	if resp.StatusCode != http.StatusOK || out["status"] != string(booking.StatusWaiting) {
		t.Fatalf("status = %d body = %v", resp.StatusCode, out)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/sessions/nope", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session: status = %d", resp.StatusCode)
	}
}

func TestCancelSession(t *testing.T) {
	be := &fakeBackend{dispatchRes: booking.SearchResult{AttemptID: "att-1"}}
	srv, _ := newTestServer(t, be)

	_, out := doJSON(t, http.MethodPost, srv.URL+"/sessions", createBody)
	id := out["session_id"].(string)

	resp, out := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/cancel", `{"reason":"changed my mind"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if out["status"] != string(booking.StatusCancelled) {
		t.Fatalf("status = %v want cancelled", out["status"])
	}

	// cancelling a finished session conflicts
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/cancel", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second cancel: status = %d want 409", resp.StatusCode)
	}
}

func TestRetrySession(t *testing.T) {
	be := &fakeBackend{dispatchRes: booking.SearchResult{AttemptID: "att-1"}}
	srv, _ := newTestServer(t, be)

	_, out := doJSON(t, http.MethodPost, srv.URL+"/sessions", createBody)
	id := out["session_id"].(string)

	resp, out := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/retry", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %v", resp.StatusCode, out)
	}
	if out["status"] != string(booking.StatusWaiting) {
		t.Fatalf("status = %v want waiting", out["status"])
	}
	if att, _ := out["attempts"].(float64); att != 2 {
		t.Fatalf("attempts = %v want 2", out["attempts"])
	}
}

func TestRetrySession_RequiresOutstandingAttempt(t *testing.T) {
	be := &fakeBackend{dispatchRes: booking.SearchResult{NoWorker: booking.NoLocationData}}
	srv, _ := newTestServer(t, be)

	_, out := doJSON(t, http.MethodPost, srv.URL+"/sessions", createBody)
	id := out["session_id"].(string)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/retry", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d want 409", resp.StatusCode)
	}
}

func TestRetrySession_BudgetSpentCancels(t *testing.T) {
	be := &fakeBackend{dispatchRes: booking.SearchResult{AttemptID: "att"}}
	srv, _ := newTestServer(t, be)

	_, out := doJSON(t, http.MethodPost, srv.URL+"/sessions", createBody)
	id := out["session_id"].(string)

	var last map[string]any
	for range 4 {
		_, last = doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/retry", "")
	}
	if last["status"] != string(booking.StatusCancelled) {
		t.Fatalf("status after exhausting retries = %v want cancelled", last["status"])
	}
}

func TestDeleteSession(t *testing.T) {
	be := &fakeBackend{dispatchRes: booking.SearchResult{AttemptID: "att-1"}}
	srv, mgr := newTestServer(t, be)

	_, out := doJSON(t, http.MethodPost, srv.URL+"/sessions", createBody)
	id := out["session_id"].(string)

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/sessions/"+id, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d want 204", resp.StatusCode)
	}
	if _, ok := mgr.Get(id); ok {
		t.Fatalf("session still registered after delete")
	}
}

func TestServiceKey_StableAcrossServiceOrder(t *testing.T) {
	a := booking.DispatchParams{City: "Bengaluru", Pincode: "560001",
		Services: []booking.ServiceLine{{ServiceID: "b"}, {ServiceID: "a"}}}
	b := booking.DispatchParams{City: "bengaluru", Pincode: "560001",
		Services: []booking.ServiceLine{{ServiceID: "a"}, {ServiceID: "b"}}}
	if ServiceKey(a) != ServiceKey(b) {
		t.Fatalf("service key must not depend on service order or city case")
	}
}
