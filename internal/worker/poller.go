package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hdevtech/ticket/internal/domain/event"
	"github.com/hdevtech/ticket/internal/domain/outbox"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_outbox_events_published_total",
		Help: "The total number of ledger events published to Kafka",
	}, []string{"type"})
	publishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_outbox_publish_errors_total",
		Help: "The total number of failed publish attempts",
	})
)

type Publisher interface {
	Publish(ctx context.Context, msg event.Message) error
}

type OutboxPoller struct {
	outboxRepo outbox.Repository
	publisher  Publisher
	interval   time.Duration
	batchSize  int
	logger     *slog.Logger
}

func NewOutboxPoller(outboxRepo outbox.Repository, publisher Publisher, interval time.Duration, logger *slog.Logger) *OutboxPoller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxPoller{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		interval:   interval,
		batchSize:  10,
		logger:     logger,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("outbox poller started", "interval", p.interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error("failed to process batch", "error", err)
			}
		}
	}
}

// ProcessBatch publishes one batch of new outbox rows and returns how many
// were published.
func (p *OutboxPoller) ProcessBatch(ctx context.Context) (int, error) {
	events, err := p.outboxRepo.FetchBatch(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}

	if len(events) == 0 {
		return 0, nil
	}

	var processedIDs []string
	var failedIDs []string

	for _, e := range events {
		msg := event.FromOutbox(e, time.Now())

		// Create a timeout context for this specific send operation
		sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := p.publisher.Publish(sendCtx, msg)
		cancel()

		if err != nil {
			p.logger.Error("failed to publish event", "event_id", e.ID, "tx_ref", e.CorrelationID, "error", err)
			publishErrors.Inc()
			failedIDs = append(failedIDs, e.ID)
			continue
		}

		p.logger.Debug("published event", "event_id", e.ID, "type", e.EventType, "tx_ref", e.CorrelationID)
		eventsPublished.WithLabelValues(e.EventType).Inc()
		processedIDs = append(processedIDs, e.ID)
	}

	if len(processedIDs) > 0 {
		if err := p.outboxRepo.MarkProcessed(ctx, processedIDs); err != nil {
			return 0, err
		}
		p.logger.Info("processed outbox events", "count", len(processedIDs))
	}

	if len(failedIDs) > 0 {
		if err := p.outboxRepo.MarkFailed(ctx, failedIDs); err != nil {
			p.logger.Error("failed to mark events as failed", "error", err)
		}
	}

	return len(processedIDs), nil
}
