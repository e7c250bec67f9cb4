// Package zonefeed listens for zone-update events and invalidates the
// zone cache so coverage changes take effect without a restart.
package zonefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/urbanserve/dispatch-core/internal/config"
)

// Invalidator drops a city from the zone cache.
type Invalidator interface {
	Invalidate(city string)
}

// WireEvent is the zone-updates topic payload.
type WireEvent struct {
	City    string    `json:"city"`
	Version uint64    `json:"version"`
	TS      time.Time `json:"ts"`
	Op      string    `json:"op,omitempty"`
}

type Runner struct {
	log      *slog.Logger
	cfg      config.ZoneFeedCfg
	inv      Invalidator
	ver      *cityVersions
	assigned atomic.Bool
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func New(cfg config.ZoneFeedCfg, inv Invalidator, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		log: log,
		cfg: cfg,
		inv: inv,
		ver: newCityVersions(cfg.DedupeSize),
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if !r.cfg.Enabled {
		r.log.Info("zone feed disabled")
		return nil
	}
	if r.inv == nil {
		return errors.New("zone feed: invalidator is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true

	brokers := strings.Split(r.cfg.Brokers, ",")
	group, err := sarama.NewConsumerGroup(brokers, r.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("consumer group: %w", err)
	}

	h := &groupHandler{
		setup:   func(sarama.ConsumerGroupSession) { r.assigned.Store(true) },
		cleanup: func(sarama.ConsumerGroupSession) { r.assigned.Store(false) },
		process: r.handleMessage,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error("kafka consumer group close", "err", err)
			}
		}()
		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				r.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.Info("zone feed started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers)
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Runner) Readiness() (bool, string) {
	if !r.cfg.Enabled {
		return true, "zone feed disabled"
	}
	if !r.assigned.Load() {
		return false, "no kafka partitions assigned"
	}
	return true, ""
}

// handleMessage applies one zone event. Malformed or stale events are
// logged and skipped; they must not stall the claim.
func (r *Runner) handleMessage(value []byte) {
	var ev WireEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		r.log.Error("decode zone event", "err", err)
		return
	}
	if ev.City == "" {
		r.log.Error("zone event missing city")
		return
	}
	if r.ver.stale(ev.City, ev.Version) {
		r.log.Debug("stale zone event skipped", "city", ev.City, "version", ev.Version)
		return
	}
	r.inv.Invalidate(ev.City)
	r.log.Info("zone cache invalidated", "city", ev.City, "version", ev.Version)
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func([]byte)
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.process(msg.Value)
		sess.MarkMessage(msg, "")
	}
	return nil
}
