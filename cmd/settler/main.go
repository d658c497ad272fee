package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hdevtech/ticket/internal/application/factories/infrastructure"
	"github.com/hdevtech/ticket/internal/config"
	domainEvent "github.com/hdevtech/ticket/internal/domain/event"
	"github.com/hdevtech/ticket/internal/domain/inbox"
	"github.com/hdevtech/ticket/internal/domain/outbox"
	"github.com/hdevtech/ticket/internal/infrastructure/kafka"
	"github.com/hdevtech/ticket/internal/settlement"
	"github.com/hdevtech/ticket/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const consumerName = "ticket-settler"

var (
	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_messages_processed_total",
		Help: "Kafka messages handled by the settler, by result",
	}, []string{"result"})
	processingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settler_processing_duration_seconds",
		Help:    "Time taken to hand a purchase to the settlement runner",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1},
	})
)

func main() {
	// Initialize structured JSON logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.New()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	if cfg.Ledger.Driver != config.LedgerPostgres {
		logger.Error("the settler needs the postgres ledger", "driver", cfg.Ledger.Driver)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Metrics Server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("Settler metrics listening", "port", cfg.HTTP.MetricsPort)
		if err := http.ListenAndServe(":"+cfg.HTTP.MetricsPort, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	infraFactory := infrastructure.NewFactory(cfg, logger)
	defer infraFactory.Close()

	ledger, err := infraFactory.Ledger(ctx)
	if err != nil {
		logger.Error("failed to open ledger", "error", err)
		os.Exit(1)
	}

	workflow, err := infraFactory.Workflow(ctx)
	if err != nil {
		logger.Error("failed to build settlement workflow", "error", err)
		os.Exit(1)
	}
	runner := infraFactory.Runner(ctx, workflow)

	sweeper := worker.NewPendingSweeper(ledger.Tickets, runner, cfg.Settlement.SweepInterval, cfg.Settlement.StaleAfter, logger)
	go sweeper.Run(ctx)

	// Kafka Consumer
	kafkaConsumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       cfg.Kafka.Topic,
		GroupID:     cfg.Kafka.GroupID,
		StartOffset: cfg.Kafka.StartOffset,
	})
	defer kafkaConsumer.Close()

	logger.Info("Settler started", "consumer", consumerName, "group_id", cfg.Kafka.GroupID)

	for {
		msg, err := kafkaConsumer.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("failed to fetch message", "error", err)
			time.Sleep(1 * time.Second)
			continue
		}

		// Retry Loop
		const maxRetries = 5
		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				backoff := time.Duration(1<<attempt) * time.Second
				logger.Info("Retry attempt", "attempt", attempt, "max", maxRetries, "backoff", backoff)
				select {
				case <-ctx.Done():
				case <-time.After(backoff):
				}
			}
			if ctx.Err() != nil {
				break
			}

			processErr := handle(ctx, ledger.Inbox, runner, msg.Value, logger)
			if processErr == nil {
				if err := kafkaConsumer.CommitMessages(ctx, msg); err != nil {
					logger.Error("failed to commit kafka message", "error", err)
				}
				break
			}

			logger.Error("Processing failed", "error", processErr)
			if attempt == maxRetries {
				// The sweeper still picks the ticket up once it is stale.
				messagesProcessed.WithLabelValues("dropped").Inc()
				logger.Error("DLQ: Dropping message after retries", "retries", maxRetries, "error", processErr)
				if err := kafkaConsumer.CommitMessages(ctx, msg); err != nil {
					logger.Error("failed to commit drop to kafka", "error", err)
				}
			}
		}
	}

	logger.Info("waiting for running settlements")
	runner.Wait()
	logger.Info("settler exited")
}

// handle starts settlement for a TicketPurchased event the settler has not
// seen before. Other event types are acknowledged and ignored.
func handle(ctx context.Context, inboxRepo infrastructure.InboxStore, runner *settlement.Runner, value []byte, logger *slog.Logger) error {
	started := time.Now()

	var ev domainEvent.Message
	if err := json.Unmarshal(value, &ev); err != nil {
		// Not our envelope (or corrupt). Commit and move on.
		logger.Error("failed to unmarshal event envelope", "error", err)
		messagesProcessed.WithLabelValues("invalid").Inc()
		return nil
	}
	if ev.Type != outbox.TypeTicketPurchased {
		messagesProcessed.WithLabelValues("ignored").Inc()
		return nil
	}

	var purchased outbox.TicketPurchased
	if err := ev.DecodePayload(&purchased); err != nil {
		logger.Error("dropping malformed purchase", "event_id", ev.ID, "error", err)
		messagesProcessed.WithLabelValues("invalid").Inc()
		return nil
	}
	txRef := purchased.TxRef
	if txRef == "" {
		txRef = ev.CorrelationID
	}

	isNew, err := inboxRepo.SaveIfNotExists(ctx, &inbox.Event{
		Consumer:      consumerName,
		EventID:       ev.ID,
		EventType:     ev.Type,
		CorrelationID: txRef,
	})
	if err != nil {
		return fmt.Errorf("inbox save: %w", err)
	}
	if !isNew {
		messagesProcessed.WithLabelValues("duplicate").Inc()
		logger.Debug("duplicate purchase event", "event_id", ev.ID, "tx_ref", txRef)
		return nil
	}

	runner.Start(txRef)

	processingDuration.Observe(time.Since(started).Seconds())
	messagesProcessed.WithLabelValues("started").Inc()
	logger.Info("settlement started", "tx_ref", txRef, "event_id", ev.ID)
	return nil
}
