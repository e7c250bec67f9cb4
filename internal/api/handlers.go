package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/urbanserve/dispatch-core/internal/booking"
	"github.com/urbanserve/dispatch-core/internal/geo"
	"github.com/urbanserve/dispatch-core/internal/observability"
	"github.com/urbanserve/dispatch-core/internal/zonecache"
)

type Handler struct {
	log   *slog.Logger
	zones *zonecache.Cache
	mgr   *Manager
}

func NewHandler(zones *zonecache.Cache, mgr *Manager, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, zones: zones, mgr: mgr}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/serviceable", h.observe("/serviceable", h.serviceable))
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.observe("/sessions", h.createSession))
		r.Get("/{id}", h.observe("/sessions/{id}", h.getSession))
		r.Delete("/{id}", h.observe("/sessions/{id}", h.deleteSession))
		r.Post("/{id}/cancel", h.observe("/sessions/{id}/cancel", h.cancelSession))
		r.Post("/{id}/retry", h.observe("/sessions/{id}/retry", h.retrySession))
	})
}

// serviceable reports whether a point falls inside any delivery zone of
// the given city.
func (h *Handler) serviceable(w http.ResponseWriter, r *http.Request) {
	city, p, err := parsePointQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.zones.Get(r.Context(), city)
	if err != nil {
		h.log.Error("load zones", "city", city, "err", err)
		writeError(w, http.StatusInternalServerError, "zone lookup failed")
		return
	}

	zone, ok := entry.Match(p)
	observability.IncGeofenceCheck(ok)
	writeJSON(w, http.StatusOK, map[string]any{
		"serviceable": ok,
		"zone":        zone,
	})
}

type createSessionRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
	booking.DispatchParams
}

type sessionResponse struct {
	SessionID        string `json:"session_id"`
	Status           string `json:"status"`
	AttemptID        string `json:"attempt_id,omitempty"`
	Attempts         int    `json:"attempts"`
	BookingID        int64  `json:"booking_id,omitempty"`
	SecondsRemaining int    `json:"seconds_remaining"`
	NoWorkerReason   string `json:"no_worker_reason,omitempty"`
}

func snapshotResponse(s *Session, reason booking.NoWorkerReason) sessionResponse {
	snap := s.Coord.Snapshot()
	return sessionResponse{
		SessionID:        s.ID,
		Status:           string(snap.Status),
		AttemptID:        snap.AttemptID,
		Attempts:         snap.Attempts,
		BookingID:        snap.BookingID,
		SecondsRemaining: snap.SecondsRemaining,
		NoWorkerReason:   string(reason),
	}
}

// createSession validates the requested location against zone coverage,
// registers a session and dispatches the first worker search.
func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := validateCreate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.zones.Get(r.Context(), req.City)
	if err != nil {
		h.log.Error("load zones", "city", req.City, "err", err)
		writeError(w, http.StatusInternalServerError, "zone lookup failed")
		return
	}
	zone, ok := entry.Match(geo.Point{Lat: req.Lat, Lng: req.Lng})
	observability.IncGeofenceCheck(ok)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "location is outside the serviceable area")
		return
	}
	if req.Area == "" {
		req.Area = zone
	}

	s, err := h.mgr.Create(r.Context(), req.DispatchParams)
	if err != nil {
		h.log.Error("create session", "err", err)
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}

	res, err := s.Coord.Dispatch(r.Context(), s.Params)
	if err != nil {
		// session is kept; the client may retry via status polling
		h.log.Error("dispatch", "session", s.ID, "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":      "worker search failed",
			"session_id": s.ID,
		})
		return
	}
	if !res.Found() {
		writeJSON(w, http.StatusOK, snapshotResponse(s, res.NoWorker))
		return
	}
	writeJSON(w, http.StatusCreated, snapshotResponse(s, ""))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.mgr.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(s, ""))
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	h.mgr.Remove(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cancelSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.mgr.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Reason == "" {
		body.Reason = "cancelled by user"
	}

	if err := s.Coord.Cancel(r.Context(), body.Reason); err != nil {
		if errors.Is(err, booking.ErrSessionTerminal) {
			writeError(w, http.StatusConflict, "session already finished")
			return
		}
		h.log.Error("cancel", "session", s.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(s, ""))
}

// retrySession abandons the outstanding attempt and dispatches a new
// search with the session's original parameters. When the retry budget is
// spent the session comes back cancelled.
func (h *Handler) retrySession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.mgr.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	res, err := s.Coord.CancelAndRetry(r.Context(), s.Params)
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrNotWaiting):
			writeError(w, http.StatusConflict, "no worker search in progress")
		case errors.Is(err, booking.ErrSessionTerminal):
			writeError(w, http.StatusConflict, "session already finished")
		default:
			h.log.Error("retry", "session", s.ID, "err", err)
			writeError(w, http.StatusBadGateway, "worker search failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(s, res.NoWorker))
}

func (h *Handler) observe(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		fn(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func parsePointQuery(r *http.Request) (string, geo.Point, error) {
	q := r.URL.Query()
	city := strings.TrimSpace(q.Get("city"))
	if city == "" {
		return "", geo.Point{}, errors.New("missing required parameter: city")
	}
	lat, err := parseCoord(q.Get("lat"), 90)
	if err != nil {
		return "", geo.Point{}, errors.New("invalid lat")
	}
	lng, err := parseCoord(q.Get("lng"), 180)
	if err != nil {
		return "", geo.Point{}, errors.New("invalid lng")
	}
	return city, geo.Point{Lat: lat, Lng: lng}, nil
}

func parseCoord(raw string, limit float64) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, err
	}
	if v < -limit || v > limit {
		return 0, errors.New("out of range")
	}
	return v, nil
}

func validateCreate(req createSessionRequest) error {
	if strings.TrimSpace(req.City) == "" {
		return errors.New("city is required")
	}
	if len(req.Services) == 0 {
		return errors.New("at least one service is required")
	}
	for _, s := range req.Services {
		if s.ServiceID == "" {
			return errors.New("service_id is required")
		}
		if s.Quantity <= 0 {
			return errors.New("quantity must be positive")
		}
	}
	if req.Lat < -90 || req.Lat > 90 || req.Lng < -180 || req.Lng > 180 {
		return errors.New("coordinates out of range")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
