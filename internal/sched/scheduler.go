package sched

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Scheduler is the single blocking call of the daemon: it owns one Wheel
// and one Dispatcher and runs the cooperative loop described in
// SPEC_FULL.md §5 — block until the nearest timer or any socket is
// ready, then drain all ready sockets and all due timers in one pass.
type Scheduler struct {
	Wheel      *Wheel
	Dispatcher *Dispatcher
	log        *log.Entry
}

func NewScheduler(wheel *Wheel, dispatcher *Dispatcher) *Scheduler {
	return &Scheduler{
		Wheel:      wheel,
		Dispatcher: dispatcher,
		log:        log.WithField("component", "sched"),
	}
}

// Run blocks until ctx is cancelled. Each iteration waits for the sooner
// of the next timer deadline or socket readiness, then drains sockets
// and due timers once.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler starting")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return
		default:
		}

		timeout := s.nextTimeoutMs()
		if err := s.Dispatcher.PollOnce(timeout); err != nil {
			s.log.WithError(err).Warn("poll error")
		}
		s.Wheel.DrainDue()
	}
}

func (s *Scheduler) nextTimeoutMs() int64 {
	due, ok := s.Wheel.NextDeadline()
	if !ok {
		return 1000 // no timers armed; still wake periodically for ctx.Done checks
	}
	now := s.Wheel.clock.NowMs()
	if due <= now {
		return 0
	}
	d := due - now
	if d > 1000 {
		d = 1000 // cap so ctx cancellation is observed promptly
	}
	return d
}
