package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/urbanserve/dispatch-core/internal/observability"
)

// Backend is the booking backend contract the coordinator runs against.
type Backend interface {
	// Dispatch asks the backend to locate nearby workers. A SearchResult
	// carries either an attempt id or a decoded no-worker reason.
	Dispatch(ctx context.Context, p DispatchParams) (SearchResult, error)

	// Poll checks an outstanding attempt: still pending or matched.
	Poll(ctx context.Context, attemptID string) (PollResult, error)

	// CancelAttempt cancels an outstanding worker search.
	CancelAttempt(ctx context.Context, attemptID string) error

	// CancelBooking cancels with a user-supplied free-text reason.
	CancelBooking(ctx context.Context, attemptID, reason string) error

	// RecordWaiting and CancelWaiting maintain the backend's record of
	// what the user session is currently doing, keyed by attempt or
	// booking id.
	RecordWaiting(ctx context.Context, refID string) error
	CancelWaiting(ctx context.Context, refID string) error
}

// sentinel strings the backend returns in place of an attempt id
var noWorkerSentinels = map[string]NoWorkerReason{
	"no-workers-in-radius":       NoWorkersInRadius,
	"no-matching-subservices":    NoMatchingUser,
	"no-location-data":           NoLocationData,
	"no-matching-subservices-v2": NoMatchingSubservices,
}

// Client talks JSON over HTTPS to the booking backend, bearer-token
// authenticated. It is the single translation point for the backend's
// wire conventions: sentinel strings and the 200/201 poll status codes.
type Client struct {
	base  *url.URL
	hc    *http.Client
	token string
	log   *slog.Logger
}

var _ Backend = (*Client)(nil)

func NewClient(baseURL, token string, hc *http.Client, log *slog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{base: u, hc: hc, token: token, log: log}, nil
}

func (c *Client) Dispatch(ctx context.Context, p DispatchParams) (SearchResult, error) {
	start := time.Now()
	var body struct {
		AttemptID string `json:"attempt_id"`
		Result    string `json:"result"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/v1/workers/search", p, &body, http.StatusOK)
	observability.ObserveBackendCall("dispatch", err, time.Since(start).Seconds())
	if err != nil {
		return SearchResult{}, err
	}

	if body.AttemptID != "" {
		return SearchResult{AttemptID: body.AttemptID}, nil
	}
	if reason, ok := noWorkerSentinels[strings.TrimSpace(body.Result)]; ok {
		return SearchResult{NoWorker: reason}, nil
	}
	return SearchResult{}, fmt.Errorf("%w: dispatch returned neither attempt id nor known sentinel (%q)",
		ErrUnexpectedResponse, body.Result)
}

func (c *Client) Poll(ctx context.Context, attemptID string) (PollResult, error) {
	start := time.Now()
	res, err := c.poll(ctx, attemptID)
	observability.ObserveBackendCall("poll", err, time.Since(start).Seconds())
	return res, err
}

func (c *Client) poll(ctx context.Context, attemptID string) (PollResult, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/workers/search/"+url.PathEscape(attemptID), nil)
	if err != nil {
		return PollResult{}, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return PollResult{}, fmt.Errorf("poll attempt %s: %w", attemptID, err)
	}
	defer drain(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return PollResult{}, nil
	case http.StatusCreated:
		var body struct {
			BookingID *int64 `json:"booking_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return PollResult{}, fmt.Errorf("decode matched poll response: %w", err)
		}
		if body.BookingID == nil {
			return PollResult{}, fmt.Errorf("%w: matched poll response missing booking_id", ErrUnexpectedResponse)
		}
		return PollResult{Matched: true, BookingID: *body.BookingID}, nil
	default:
		return PollResult{}, fmt.Errorf("poll attempt %s: unexpected status %d", attemptID, resp.StatusCode)
	}
}

func (c *Client) CancelAttempt(ctx context.Context, attemptID string) error {
	start := time.Now()
	err := c.doJSON(ctx, http.MethodPost,
		"/v1/workers/search/"+url.PathEscape(attemptID)+"/cancel", nil, nil, http.StatusOK)
	observability.ObserveBackendCall("cancel_attempt", err, time.Since(start).Seconds())
	return err
}

func (c *Client) CancelBooking(ctx context.Context, attemptID, reason string) error {
	start := time.Now()
	payload := map[string]string{"reason": reason}
	err := c.doJSON(ctx, http.MethodPost,
		"/v1/bookings/"+url.PathEscape(attemptID)+"/cancel", payload, nil, http.StatusOK)
	observability.ObserveBackendCall("cancel_booking", err, time.Since(start).Seconds())
	return err
}

func (c *Client) RecordWaiting(ctx context.Context, refID string) error {
	start := time.Now()
	payload := map[string]string{"action": "waiting", "ref": refID}
	err := c.doJSON(ctx, http.MethodPost, "/v1/actions", payload, nil, http.StatusOK, http.StatusCreated)
	observability.ObserveBackendCall("record_action", err, time.Since(start).Seconds())
	return err
}

func (c *Client) CancelWaiting(ctx context.Context, refID string) error {
	start := time.Now()
	req, err := c.newRequest(ctx, http.MethodDelete, "/v1/actions/"+url.PathEscape(refID), nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	observability.ObserveBackendCall("cancel_action", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("cancel action %s: %w", refID, err)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("cancel action %s: unexpected status %d", refID, resp.StatusCode)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, okStatuses ...int) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer drain(resp.Body)

	ok := false
	for _, s := range okStatuses {
		if resp.StatusCode == s {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

func drain(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 1<<16))
	_ = rc.Close()
}
