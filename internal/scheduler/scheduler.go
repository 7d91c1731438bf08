// Package scheduler drives the time-triggered side of the reservation
// lifecycle: expiry of uncollected reservations, overdue detection,
// pickup and return reminders and the lifting of elapsed restrictions.
//
// Each reservation is submitted to the coordinator on its own, so one
// failure never aborts a sweep, and sweeps may overlap: every transition is
// guarded by the reservation's compare-and-set and every reminder by the
// reminder log.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/hub-lending/internal/config"
	"github.com/iliyamo/hub-lending/internal/coordinator"
	"github.com/iliyamo/hub-lending/internal/model"
	"github.com/iliyamo/hub-lending/internal/repository"
	"github.com/iliyamo/hub-lending/internal/reservation"
	"github.com/iliyamo/hub-lending/internal/standing"
)

// SweepResult counts what one sweep did.
type SweepResult struct {
	Expired            int `json:"expired"`
	Overdue            int `json:"overdue"`
	Reminders          int `json:"reminders"`
	RestrictionsLifted int `json:"restrictions_lifted"`
	Skipped            int `json:"skipped"`
	Failed             int `json:"failed"`
}

func (r *SweepResult) add(o SweepResult) {
	r.Expired += o.Expired
	r.Overdue += o.Overdue
	r.Reminders += o.Reminders
	r.RestrictionsLifted += o.RestrictionsLifted
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// Scheduler runs sweeps on a fixed interval.
type Scheduler struct {
	coord        *coordinator.Coordinator
	reservations *repository.ReservationRepo
	standing     *standing.Service
	cfg          config.SchedulerConfig
	log          *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Scheduler.
func New(coord *coordinator.Coordinator, reservations *repository.ReservationRepo, st *standing.Service, cfg config.SchedulerConfig, log *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		coord:        coord,
		reservations: reservations,
		standing:     st,
		cfg:          cfg,
		log:          log,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start sweeps once immediately and then on every tick until ctx is done
// or Stop is called.  It blocks; run it in its own goroutine.  Start after
// Stop, or with a finished ctx, returns without sweeping.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()
	if ctx.Err() != nil || s.ctx.Err() != nil {
		s.log.Info("scheduler not started", zap.String("cause", "stopped"))
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("scheduler started", zap.Duration("interval", s.cfg.Interval))
	s.sweep(ctx)
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			s.log.Info("scheduler stopping", zap.String("cause", "context"))
			return
		case <-s.ctx.Done():
			s.log.Info("scheduler stopping", zap.String("cause", "stop"))
			return
		}
	}
}

// Stop ends the loop started by Start and waits for the running sweep.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) sweep(ctx context.Context) {
	res, err := s.RunOnce(ctx)
	if err != nil {
		s.log.Warn("sweep incomplete", zap.Error(err))
	}
	s.log.Info("sweep finished",
		zap.Int("expired", res.Expired),
		zap.Int("overdue", res.Overdue),
		zap.Int("reminders", res.Reminders),
		zap.Int("restrictions_lifted", res.RestrictionsLifted),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
}

// RunOnce performs one sweep: expiry, overdue, pickup reminders, return
// reminders per level, then restriction lifting.  Per-reservation errors
// are counted; the returned error reports only a phase that could not list
// its candidates.
func (s *Scheduler) RunOnce(ctx context.Context) (SweepResult, error) {
	var (
		total SweepResult
		errs  []error
	)
	now := s.coord.Clock().Now()

	phases := []struct {
		name string
		run  func(context.Context, time.Time) (SweepResult, error)
	}{
		{"expire", s.expire},
		{"overdue", s.overdue},
		{"pickup_reminders", s.pickupReminders},
		{"return_reminders", s.returnReminders},
		{"lift_restrictions", s.liftRestrictions},
	}
	for _, p := range phases {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, err := p.run(ctx, now)
		total.add(res)
		if err != nil {
			s.log.Error("sweep phase failed", zap.String("phase", p.name), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

func (s *Scheduler) expire(ctx context.Context, now time.Time) (SweepResult, error) {
	rows, err := s.reservations.ListPastPickup(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return SweepResult{}, err
	}
	var res SweepResult
	for _, r := range rows {
		_, err := s.coord.Expire(ctx, r.ID)
		s.tally(&res, &res.Expired, "expire", r.ID, err)
	}
	return res, nil
}

func (s *Scheduler) overdue(ctx context.Context, now time.Time) (SweepResult, error) {
	rows, err := s.reservations.ListPastDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return SweepResult{}, err
	}
	var res SweepResult
	for _, r := range rows {
		_, err := s.coord.MarkOverdue(ctx, r.ID)
		s.tally(&res, &res.Overdue, "overdue", r.ID, err)
	}
	return res, nil
}

func (s *Scheduler) pickupReminders(ctx context.Context, now time.Time) (SweepResult, error) {
	if s.cfg.PickupReminderLead <= 0 {
		return SweepResult{}, nil
	}
	rows, err := s.reservations.ListPickupReminderDue(ctx, now, s.cfg.PickupReminderLead, s.cfg.BatchSize)
	if err != nil {
		return SweepResult{}, err
	}
	var res SweepResult
	for _, r := range rows {
		s.remind(ctx, &res, r, model.ReminderPickup, 1)
	}
	return res, nil
}

// returnReminders emits one level per configured offset; level 1 belongs
// to the first offset.
func (s *Scheduler) returnReminders(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	for i, off := range s.cfg.ReturnReminderOffsets {
		level := i + 1
		rows, err := s.reservations.ListReturnReminderDue(ctx, now, off, level, s.cfg.BatchSize)
		if err != nil {
			return res, err
		}
		for _, r := range rows {
			s.remind(ctx, &res, r, model.ReminderReturn, level)
		}
	}
	return res, nil
}

func (s *Scheduler) remind(ctx context.Context, res *SweepResult, r model.Reservation, kind string, level int) {
	sent, err := s.coord.EmitReminder(ctx, r.ID, kind, level)
	if err == nil && !sent {
		res.Skipped++
		return
	}
	s.tally(res, &res.Reminders, "reminder", r.ID, err)
}

func (s *Scheduler) liftRestrictions(ctx context.Context, now time.Time) (SweepResult, error) {
	n, err := s.standing.LiftExpired(ctx, now)
	return SweepResult{RestrictionsLifted: n}, err
}

// tally counts the outcome of one submitted reservation.  Losing a race to
// a concurrent request or sweep is a skip, not a failure.
func (s *Scheduler) tally(res *SweepResult, done *int, op string, id uint64, err error) {
	switch {
	case err == nil:
		*done++
	case errors.Is(err, reservation.ErrStaleState), errors.Is(err, reservation.ErrAlreadyTerminal):
		res.Skipped++
	default:
		res.Failed++
		s.log.Warn("sweep item failed",
			zap.String("op", op),
			zap.Uint64("reservation_id", id),
			zap.Error(err))
	}
}
