package controller

import (
	"context"
	"time"

	"github.com/majeggstics/snapshotd/internal/ops"
)

// Scheduler invokes a Controller's Tick on a fixed cadence in its own
// goroutine. Ticks are never run concurrently with each other: a slow
// tick simply delays the next one rather than overlapping it, per
// spec.md §4.8's "ticks are serialized" cadence note.
type Scheduler struct {
	controller *Controller
	interval   time.Duration
	runOnStart bool

	stop chan struct{}
	done chan struct{}
}

// NewScheduler builds a Scheduler that ticks controller every interval.
func NewScheduler(controller *Controller, interval time.Duration, runOnStart bool) *Scheduler {
	return &Scheduler{
		controller: controller,
		interval:   interval,
		runOnStart: runOnStart,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the scheduling loop until Stop is called or ctx is
// cancelled. It blocks, so callers typically invoke it in its own
// goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.done)

	if s.runOnStart {
		s.runTick(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.runTick(ctx, now)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context, at ...time.Time) {
	now := time.Now().UTC()
	if len(at) > 0 {
		now = at[0].UTC()
	}
	if err := s.controller.Tick(ctx, now); err != nil {
		ops.Default().Error("controller tick failed", "error", err)
	}
}

// Stop signals the scheduling loop to exit and waits for it to do so.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}
