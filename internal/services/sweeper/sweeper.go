// Package sweeper closes support tickets that have gone silent. It runs on
// a fixed interval, selects open tickets whose last activity on either side
// is older than the inactivity threshold, and closes them through the same
// lifecycle path manual closes use, so both stay correct when they race.
package sweeper

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/petalia/florabot/internal/models"
	"github.com/petalia/florabot/internal/support"
)

// ticketFinder is the slice of the ticket repository the sweeper reads.
type ticketFinder interface {
	FindInactiveOpen(ctx context.Context, cutoff time.Time, limit int) ([]*models.SupportTicket, error)
}

// ticketCloser is the slice of the lifecycle manager the sweeper drives.
type ticketCloser interface {
	CloseTicket(ctx context.Context, t *models.SupportTicket, closer *support.Party) (bool, error)
	PostSupportLog(ctx context.Context, text string)
}

// Service owns the periodic inactivity sweep.
type Service struct {
	store  ticketFinder
	closer ticketCloser
	cron   *cron.Cron
	logger *log.Logger
	now    func() time.Time

	interval  time.Duration
	threshold time.Duration
	batchSize int

	job     cron.Job
	initial sync.WaitGroup
	entryID cron.EntryID
}

// New builds a sweeper around the ticket store and lifecycle manager.
func New(store ticketFinder, closer ticketCloser, opts ...Option) *Service {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Service{
		store:     store,
		closer:    closer,
		cron:      o.Cron,
		logger:    o.Logger,
		now:       o.Now,
		interval:  o.Interval,
		threshold: o.Threshold,
		batchSize: o.BatchSize,
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLocation(o.Location))
	}
	// A single SkipIfStillRunning wrapper guards both the scheduled ticks
	// and the immediate start-up sweep, so a slow sweep can never stack on
	// top of itself no matter which path triggered it.
	s.job = cron.NewChain(cron.SkipIfStillRunning(cron.PrintfLogger(s.logger))).Then(
		cron.FuncJob(func() {
			if _, err := s.RunOnce(context.Background()); err != nil {
				s.logger.Printf("sweeper: sweep failed: %v", err)
			}
		}))
	return s
}

// Start schedules the periodic sweep and kicks one off immediately, so a
// restart does not postpone overdue closes by a full interval.
func (s *Service) Start() error {
	id, err := s.cron.AddJob(fmt.Sprintf("@every %s", s.interval), s.job)
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.entryID = id
	s.cron.Start()

	s.initial.Add(1)
	go func() {
		defer s.initial.Done()
		s.job.Run()
	}()
	return nil
}

// Stop halts the schedule and waits for in-flight sweeps, including the
// start-up one, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-stopCtx.Done()
		s.initial.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single sweep and returns how many tickets it closed.
// A failure to close one ticket never aborts the rest of the batch.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	done := globalSweepMetrics().recordRun()
	defer done()

	cutoff := s.now().Add(-s.threshold)
	tickets, err := s.store.FindInactiveOpen(ctx, cutoff, s.batchSize)
	if err != nil {
		globalSweepMetrics().recordError()
		return 0, fmt.Errorf("find inactive tickets: %w", err)
	}
	if len(tickets) == 0 {
		return 0, nil
	}

	closed := 0
	for _, t := range tickets {
		won, err := s.closer.CloseTicket(ctx, t, nil)
		if err != nil {
			globalSweepMetrics().recordError()
			s.logger.Printf("sweeper: close ticket %d: %v", t.ID, err)
			continue
		}
		if !won {
			// A manager or the client closed it between select and update.
			continue
		}
		closed++
		globalSweepMetrics().recordClosed()
		s.closer.PostSupportLog(ctx, fmt.Sprintf(
			"🕐 Ticket #%d (%s) auto-closed after %s of inactivity",
			t.ID, t.TopicName, s.threshold))
	}
	if closed > 0 {
		s.logger.Printf("sweeper: closed %d inactive ticket(s)", closed)
	}
	return closed, nil
}
