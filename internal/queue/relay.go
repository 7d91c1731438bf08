package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/hub-lending/internal/clock"
	"github.com/iliyamo/hub-lending/internal/repository"
)

// Relay moves committed outbox events to the broker in insertion order.
// Delivery is at-least-once: a crash between publish and mark republishes
// the event, so consumers deduplicate on event_id.
type Relay struct {
	repo     *repository.OutboxRepo
	pub      Publisher
	log      *zap.Logger
	clock    clock.Clock
	interval time.Duration
	batch    int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRelay constructs a Relay polling every interval.
func NewRelay(repo *repository.OutboxRepo, pub Publisher, log *zap.Logger, clk clock.Clock, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Relay{repo: repo, pub: pub, log: log, clock: clk, interval: interval, batch: 100}
}

// RunOnce publishes up to one batch of pending events and returns how
// many were published.  It stops at the first failure so later events are
// not delivered ahead of an earlier one.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.repo.ListPending(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	published := 0
	for _, ev := range pending {
		if err := r.pub.Publish(ctx, ev); err != nil {
			r.log.Warn("outbox publish failed",
				zap.Uint64("outbox_id", ev.ID),
				zap.String("event_type", ev.EventType),
				zap.Int("attempts", ev.Attempts+1),
				zap.Error(err))
			if rerr := r.repo.RecordFailure(ctx, ev.ID, err); rerr != nil {
				r.log.Error("outbox failure not recorded", zap.Uint64("outbox_id", ev.ID), zap.Error(rerr))
			}
			return published, err
		}
		if err := r.repo.MarkPublished(ctx, ev.ID, r.clock.Now()); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}

// Start begins polling in the background.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.running = true
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop halts polling and waits for the loop to exit.
func (r *Relay) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.running = false
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Relay) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain while full batches keep coming.
			for {
				n, err := r.RunOnce(ctx)
				if err != nil || n < r.batch {
					break
				}
			}
		}
	}
}
