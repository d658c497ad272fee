package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hdevtech/ticket/internal/domain/ticket"
)

type PendingLister interface {
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*ticket.Ticket, error)
}

// Starter begins a background settlement. It reports false when one is
// already running for txRef.
type Starter interface {
	Start(txRef string) bool
}

// PendingSweeper restarts settlement for tickets left pending, e.g. after a
// restart or a lost TicketPurchased message.
type PendingSweeper struct {
	tickets    PendingLister
	runner     Starter
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	logger     *slog.Logger

	now func() time.Time
}

func NewPendingSweeper(tickets PendingLister, runner Starter, interval, staleAfter time.Duration, logger *slog.Logger) *PendingSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PendingSweeper{
		tickets:    tickets,
		runner:     runner,
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  100,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *PendingSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("pending sweeper started", "interval", s.interval, "stale_after", s.staleAfter)

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("failed to sweep pending tickets", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep starts settlement for every stale pending ticket and returns how
// many were started.
func (s *PendingSweeper) Sweep(ctx context.Context) (int, error) {
	tickets, err := s.tickets.ListPending(ctx, s.now().Add(-s.staleAfter), s.batchSize)
	if err != nil {
		return 0, err
	}

	started := 0
	for _, t := range tickets {
		if s.runner.Start(t.TxRef) {
			started++
		}
	}
	if started > 0 {
		s.logger.Info("restarted pending settlements", "count", started, "found", len(tickets))
	}
	return started, nil
}
