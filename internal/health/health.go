// Package health provides liveness and readiness handlers.
package health

import (
	"encoding/json"
	"net/http"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

type ReadinessReporter interface {
	Readiness() (ready bool, detail string)
}

// Multi reports ready only when every reporter does; the first failing
// detail wins.
type Multi []ReadinessReporter

func (m Multi) Readiness() (bool, string) {
	for _, rr := range m {
		if rr == nil {
			continue
		}
		if ready, detail := rr.Readiness(); !ready {
			return false, detail
		}
	}
	return true, ""
}

func Readiness(rr ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status string `json:"status"`
			Detail string `json:"detail,omitempty"`
		}
		out := resp{Status: "ready"}
		if rr != nil {
			ready, detail := rr.Readiness()
			if !ready {
				out.Status = "not_ready"
				out.Detail = detail
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
