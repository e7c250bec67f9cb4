package booking

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urbanserve/dispatch-core/internal/journal"
	"github.com/urbanserve/dispatch-core/internal/kvstore"
	"github.com/urbanserve/dispatch-core/internal/observability"
)

const (
	DefaultPollInterval = 110 * time.Second
	DefaultWaitDeadline = 600 * time.Second
	DefaultMaxRetries   = 3

	cleanupTimeout = 10 * time.Second
)

type Config struct {
	// ServiceKey identifies the service being booked; it keys the
	// persisted countdown start and attempt id so a client reload
	// resumes the same session instead of resetting it.
	ServiceKey string

	PollInterval time.Duration
	WaitDeadline time.Duration
	MaxRetries   int
}

// Snapshot is a read-only view of the session for status endpoints.
type Snapshot struct {
	Status           Status
	AttemptID        string
	Attempts         int
	BookingID        int64
	SecondsRemaining int
}

// Coordinator drives one outstanding worker-search request. All backend
// calls are asynchronous I/O; the coordinator processes one event to
// completion before accepting the next. User cancellation flips local
// state immediately and runs network cleanup in the background: local
// state is authoritative over the network outcome.
type Coordinator struct {
	cfg     Config
	backend Backend
	store   kvstore.Store
	jnl     journal.Journal
	log     *slog.Logger

	now func() time.Time

	// OnNotice, when set, receives transient user-facing notices such as
	// "cancel timed out". Never called after Close.
	OnNotice func(string)

	mu         sync.Mutex
	status     Status
	attemptID  string
	attempts   int
	bookingID  int64
	start      time.Time
	pollCancel context.CancelFunc

	inFlight  atomic.Bool
	pollWG    sync.WaitGroup
	cleanupWG sync.WaitGroup

	done     chan struct{}
	doneOnce sync.Once
}

// New restores any persisted session state for cfg.ServiceKey and persists
// the countdown start if this is the first coordinator for the key. A
// restored outstanding attempt resumes polling immediately.
func New(ctx context.Context, cfg Config, backend Backend, store kvstore.Store, jnl journal.Journal, log *slog.Logger) (*Coordinator, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.WaitDeadline <= 0 {
		cfg.WaitDeadline = DefaultWaitDeadline
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if jnl == nil {
		jnl = journal.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Coordinator{
		cfg:     cfg,
		backend: backend,
		store:   store,
		jnl:     jnl,
		log:     log,
		now:     time.Now,
		status:  StatusIdle,
		done:    make(chan struct{}),
	}

	if v, ok, err := store.Get(ctx, c.startKey()); err != nil {
		return nil, err
	} else if ok {
		if sec, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			c.start = time.Unix(sec, 0)
		}
	}
	if c.start.IsZero() {
		c.start = c.now()
		if err := store.Set(ctx, c.startKey(), strconv.FormatInt(c.start.Unix(), 10)); err != nil {
			return nil, err
		}
	}

	if v, ok, err := store.Get(ctx, c.attemptKey()); err != nil {
		return nil, err
	} else if ok && v != "" {
		c.attemptID = v
		c.status = StatusWaiting
		c.startPollingLocked()
		log.Info("resumed outstanding worker search", "attempt_id", v)
	}

	return c, nil
}

// Dispatch sends the booking parameters to locate nearby workers. A result
// carrying an attempt id moves the session to waiting and starts the poll
// loop; a no-worker sentinel returns the session to idle with no polling.
// On a backend error the session stays in searching and may be retried.
func (c *Coordinator) Dispatch(ctx context.Context, p DispatchParams) (SearchResult, error) {
	c.mu.Lock()
	if c.status.Terminal() {
		c.mu.Unlock()
		return SearchResult{}, ErrSessionTerminal
	}
	if c.status == StatusWaiting {
		c.mu.Unlock()
		return SearchResult{}, ErrNotWaiting
	}
	c.status = StatusSearching
	c.mu.Unlock()

	res, err := c.backend.Dispatch(ctx, p)
	if err != nil {
		c.log.Error("worker search dispatch failed", "err", err)
		return SearchResult{}, err
	}

	if !res.Found() {
		c.mu.Lock()
		c.status = StatusIdle
		c.mu.Unlock()
		observability.IncTransition("idle")
		c.record(journal.Event{Type: journal.EventNoWorker, Reason: string(res.NoWorker)})
		return res, nil
	}

	c.adoptAttempt(ctx, res.AttemptID)
	return res, nil
}

// CancelAndRetry cancels the current attempt and dispatches a fresh search,
// unless the retry budget is spent, in which case the session is cancelled
// unconditionally.
func (c *Coordinator) CancelAndRetry(ctx context.Context, p DispatchParams) (SearchResult, error) {
	c.mu.Lock()
	if c.status.Terminal() {
		c.mu.Unlock()
		return SearchResult{}, ErrSessionTerminal
	}
	if c.status != StatusWaiting || c.attemptID == "" {
		c.mu.Unlock()
		return SearchResult{}, ErrNotWaiting
	}
	old := c.attemptID
	if c.attempts > c.cfg.MaxRetries {
		attempts := c.attempts
		c.mu.Unlock()
		c.log.Info("retry budget spent, cancelling", "attempts", attempts)
		c.record(journal.Event{Type: journal.EventRetryExhausted, AttemptID: old})
		_ = c.Cancel(ctx, "retry limit reached")
		return SearchResult{}, nil
	}
	c.status = StatusSearching
	c.mu.Unlock()

	// best-effort teardown of the previous attempt; errors are not fatal
	if err := c.backend.CancelAttempt(ctx, old); err != nil {
		c.log.Warn("cancel previous attempt failed", "attempt_id", old, "err", err)
	}
	if err := c.backend.CancelWaiting(ctx, old); err != nil {
		c.log.Warn("cancel waiting action failed", "attempt_id", old, "err", err)
	}

	res, err := c.backend.Dispatch(ctx, p)
	if err != nil {
		c.log.Error("worker search re-dispatch failed", "err", err)
		return SearchResult{}, err
	}

	if !res.Found() {
		c.mu.Lock()
		c.status = StatusIdle
		c.attemptID = ""
		c.stopPollingLocked()
		c.mu.Unlock()
		c.removeKey(c.attemptKey())
		observability.IncTransition("idle")
		c.record(journal.Event{Type: journal.EventNoWorker, Reason: string(res.NoWorker)})
		return res, nil
	}

	c.adoptAttempt(ctx, res.AttemptID)
	return res, nil
}

// Cancel is the user-initiated terminal cancellation. State flips to
// cancelled before any network call; backend cancellation and bookkeeping
// run in the background so an unreachable backend cannot hang the caller.
func (c *Coordinator) Cancel(ctx context.Context, reason string) error {
	c.mu.Lock()
	if c.status.Terminal() {
		c.mu.Unlock()
		return ErrSessionTerminal
	}
	attempt := c.attemptID
	c.status = StatusCancelled
	c.stopPollingLocked()
	c.mu.Unlock()

	observability.IncTransition("cancelled")
	c.signalDone()

	c.cleanupWG.Add(1)
	go func() {
		defer c.cleanupWG.Done()
		cctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()

		if attempt != "" {
			if err := c.backend.CancelBooking(cctx, attempt, reason); err != nil {
				c.log.Warn("booking cancel not confirmed by backend", "attempt_id", attempt, "err", err)
				c.notice("cancel timed out")
			}
			if err := c.backend.CancelWaiting(cctx, attempt); err != nil {
				c.log.Warn("cancel waiting action failed", "attempt_id", attempt, "err", err)
			}
		}
		c.clearPersisted(cctx)
		c.record(journal.Event{Type: journal.EventCancelled, AttemptID: attempt, Reason: reason})
	}()
	return nil
}

// Status reports the session state. A waiting session past its deadline
// reads as expired; this is display-only and does not cancel anything.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusWaiting && c.now().After(c.deadline()) {
		return StatusExpired
	}
	return c.status
}

// Remaining is the countdown toward the persisted deadline.
func (c *Coordinator) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.deadline().Sub(c.now())
	if d < 0 {
		return 0
	}
	return d
}

func (c *Coordinator) RemainingSeconds() int {
	return int(c.Remaining() / time.Second)
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		Status:    c.status,
		AttemptID: c.attemptID,
		Attempts:  c.attempts,
		BookingID: c.bookingID,
	}
	if s.Status == StatusWaiting && c.now().After(c.deadline()) {
		s.Status = StatusExpired
	}
	rem := c.deadline().Sub(c.now())
	c.mu.Unlock()
	if rem > 0 {
		s.SecondsRemaining = int(rem / time.Second)
	}
	return s
}

// Done is closed when the session reaches accepted or cancelled.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// BookingID is valid once the session is accepted.
func (c *Coordinator) BookingID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bookingID
}

// Close stops polling and waits for in-flight background work.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.stopPollingLocked()
	c.mu.Unlock()
	c.pollWG.Wait()
	c.cleanupWG.Wait()
}

// adoptAttempt installs a fresh attempt id and moves to waiting.
func (c *Coordinator) adoptAttempt(ctx context.Context, attemptID string) {
	c.mu.Lock()
	c.attemptID = attemptID
	c.attempts++
	c.status = StatusWaiting
	c.startPollingLocked()
	c.mu.Unlock()

	if err := c.store.Set(ctx, c.attemptKey(), attemptID); err != nil {
		c.log.Warn("persist attempt id failed", "err", err)
	}
	// backend-side marker that the user is on the waiting screen
	if err := c.backend.RecordWaiting(ctx, attemptID); err != nil {
		c.log.Warn("record waiting action failed", "attempt_id", attemptID, "err", err)
	}
	observability.IncTransition("waiting")
	c.record(journal.Event{Type: journal.EventDispatched, AttemptID: attemptID})
}

// startPollingLocked launches the poll loop once. The first check happens
// a full interval after dispatch, not immediately.
func (c *Coordinator) startPollingLocked() {
	if c.pollCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.pollCancel = cancel
	c.pollWG.Add(1)
	go func() {
		defer c.pollWG.Done()
		t := time.NewTicker(c.cfg.PollInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.pollOnce(ctx)
			}
		}
	}()
}

func (c *Coordinator) stopPollingLocked() {
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
}

// pollOnce checks the outstanding attempt. Only one poll may be in flight
// per attempt; an overlapping tick is skipped.
func (c *Coordinator) pollOnce(ctx context.Context) {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.log.Debug("previous poll still in flight, skipping tick")
		return
	}
	defer c.inFlight.Store(false)

	c.mu.Lock()
	if c.status != StatusWaiting {
		c.mu.Unlock()
		return
	}
	attempt := c.attemptID
	c.mu.Unlock()

	res, err := c.backend.Poll(ctx, attempt)
	if err != nil {
		// state unchanged, next tick retries
		c.log.Error("status poll failed", "attempt_id", attempt, "err", err)
		return
	}
	if !res.Matched {
		c.log.Debug("worker search still pending", "attempt_id", attempt)
		return
	}
	c.accept(attempt, res.BookingID)
}

// accept transitions to accepted and then performs best-effort backend
// bookkeeping. Failures there are logged and never block the transition.
func (c *Coordinator) accept(oldAttempt string, bookingID int64) {
	c.mu.Lock()
	if c.status != StatusWaiting {
		c.mu.Unlock()
		return
	}
	c.status = StatusAccepted
	c.bookingID = bookingID
	c.stopPollingLocked()
	c.mu.Unlock()

	observability.IncTransition("accepted")

	cctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := c.backend.CancelWaiting(cctx, oldAttempt); err != nil {
		c.log.Warn("cancel waiting action failed after match", "attempt_id", oldAttempt, "err", err)
	}
	if err := c.backend.RecordWaiting(cctx, strconv.FormatInt(bookingID, 10)); err != nil {
		c.log.Warn("record action for booking failed after match", "booking_id", bookingID, "err", err)
	}
	c.clearPersisted(cctx)
	c.record(journal.Event{Type: journal.EventMatched, AttemptID: oldAttempt, BookingID: bookingID})
	c.log.Info("worker matched", "attempt_id", oldAttempt, "booking_id", bookingID)
	c.signalDone()
}

func (c *Coordinator) deadline() time.Time {
	return c.start.Add(c.cfg.WaitDeadline)
}

func (c *Coordinator) startKey() string   { return "wait:" + c.cfg.ServiceKey + ":start" }
func (c *Coordinator) attemptKey() string { return "wait:" + c.cfg.ServiceKey + ":attempt" }

// clearPersisted drops reload-survivable state once the session is terminal.
func (c *Coordinator) clearPersisted(ctx context.Context) {
	c.removeKeyCtx(ctx, c.startKey())
	c.removeKeyCtx(ctx, c.attemptKey())
}

func (c *Coordinator) removeKey(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	c.removeKeyCtx(ctx, key)
}

func (c *Coordinator) removeKeyCtx(ctx context.Context, key string) {
	if err := c.store.Remove(ctx, key); err != nil {
		c.log.Warn("remove persisted key failed", "key", key, "err", err)
	}
}

func (c *Coordinator) record(e journal.Event) {
	e.SessionID = c.cfg.ServiceKey
	if e.At.IsZero() {
		e.At = c.now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := c.jnl.Record(ctx, e); err != nil {
		c.log.Warn("journal record failed", "event", string(e.Type), "err", err)
	}
}

func (c *Coordinator) notice(msg string) {
	if c.OnNotice != nil {
		c.OnNotice(msg)
	}
}

func (c *Coordinator) signalDone() {
	c.doneOnce.Do(func() { close(c.done) })
}
