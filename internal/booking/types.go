// Package booking drives a worker-search request from dispatch through
// resolution: polling the backend, enforcing the bounded-retry policy and
// exposing user cancellation.
package booking

import "errors"

// Status of a booking session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSearching Status = "searching"
	StatusWaiting   Status = "waiting"
	StatusAccepted  Status = "accepted"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusCancelled:
		return true
	}
	return false
}

// NoWorkerReason is the decoded form of the backend's "no worker found"
// sentinel values. The zero value means a worker search was created.
type NoWorkerReason string

const (
	NoWorkersInRadius     NoWorkerReason = "no_workers_in_radius"
	NoMatchingUser        NoWorkerReason = "no_matching_user"
	NoLocationData        NoWorkerReason = "no_location_data"
	NoMatchingSubservices NoWorkerReason = "no_matching_subservices"
)

// SearchResult is the outcome of a dispatch: either an attempt id to poll
// against, or a reason no worker could be found.
type SearchResult struct {
	AttemptID string
	NoWorker  NoWorkerReason
}

func (r SearchResult) Found() bool { return r.AttemptID != "" }

// PollResult is the decoded status-check response. The HTTP status-code
// convention (200 pending, 201 matched) stays inside the REST client.
type PollResult struct {
	Matched   bool
	BookingID int64
}

// ServiceLine is one requested service item, passed through unmodified.
type ServiceLine struct {
	ServiceID string  `json:"service_id"`
	Quantity  int     `json:"quantity"`
	Cost      float64 `json:"cost"`
}

// DispatchParams are the booking parameters sent to locate nearby workers.
type DispatchParams struct {
	Area         string        `json:"area"`
	City         string        `json:"city"`
	Pincode      string        `json:"pincode"`
	ContactName  string        `json:"contact_name"`
	ContactPhone string        `json:"contact_phone"`
	Services     []ServiceLine `json:"services"`
	Discount     float64       `json:"discount"`
	Tip          float64       `json:"tip"`
	Offer        string        `json:"offer,omitempty"`
}

var (
	// ErrUnexpectedResponse marks a backend reply that violates the wire
	// contract, e.g. a matched poll without a booking id.
	ErrUnexpectedResponse = errors.New("unexpected backend response")

	// ErrSessionTerminal is returned for operations on a finished session.
	ErrSessionTerminal = errors.New("booking session already terminal")

	// ErrNotWaiting is returned when an operation needs an outstanding
	// attempt and there is none.
	ErrNotWaiting = errors.New("no worker search in progress")
)
