package scheduler

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
)

// RecoverySweeper drives a Queue's Recover() on a schedule — the
// production wiring for a recover() that runs "periodically," rather
// than being triggered per-request. Built on github.com/robfig/cron/v3,
// the same dependency the broader example pack reaches for to schedule
// periodic background jobs. Recover itself stays directly callable (see
// Queue) for tests and hosts that don't want a cron dependency at all.
type RecoverySweeper struct {
	queue   Queue
	cron    *cron.Cron
	onSwept func([]Job)
}

// NewRecoverySweeper builds a sweeper over queue. onSwept, if non-nil,
// is called with every batch of recovered jobs — typically to emit
// RETRY_ATTEMPTED events for observability, per spec.md §4.8.
func NewRecoverySweeper(queue Queue, onSwept func([]Job)) *RecoverySweeper {
	return &RecoverySweeper{
		queue:   queue,
		cron:    cron.New(),
		onSwept: onSwept,
	}
}

// Start schedules a Recover sweep at the given cron spec (e.g.
// "@every 10s") and begins running it in the background. Call Stop to
// halt the sweeper.
func (s *RecoverySweeper) Start(ctx context.Context, spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		recovered, err := s.queue.Recover(ctx)
		if err != nil {
			log.Printf("scheduler: recover sweep failed: %v", err)
			return
		}
		if len(recovered) > 0 && s.onSwept != nil {
			s.onSwept(recovered)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the sweeper, waiting for any in-progress sweep to finish.
func (s *RecoverySweeper) Stop() {
	<-s.cron.Stop().Done()
}
