package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hdevtech/ticket/internal/config"
	"github.com/hdevtech/ticket/internal/domain/inbox"
	"github.com/hdevtech/ticket/internal/domain/ticket"
	"github.com/hdevtech/ticket/internal/infrastructure/boltdb"
	"github.com/hdevtech/ticket/internal/infrastructure/gateway"
	"github.com/hdevtech/ticket/internal/infrastructure/postgres"
	"github.com/hdevtech/ticket/internal/infrastructure/redis"
	"github.com/hdevtech/ticket/internal/infrastructure/sms"
	"github.com/hdevtech/ticket/internal/settlement"
	"github.com/hdevtech/ticket/internal/usecase"

	pgxpool "github.com/jackc/pgx/v5/pgxpool"
	go_redis "github.com/redis/go-redis/v9"
)

// TicketLedger is the ticket store behind both ledger drivers.
type TicketLedger interface {
	settlement.Ledger
	Create(ctx context.Context, t *ticket.Ticket) error
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*ticket.Ticket, error)
}

type RouteWriter interface {
	Create(ctx context.Context, r *ticket.Route) error
}

type ChargeStore interface {
	usecase.ChargeLog
	usecase.ChargeHistory
}

type InboxStore interface {
	SaveIfNotExists(ctx context.Context, e *inbox.Event) (bool, error)
	ListByCorrelationID(ctx context.Context, correlationID string) ([]*inbox.Event, error)
}

// Ledger is the configured ledger. Outbox, Inbox, Charges and Tx are set
// only by the postgres driver.
type Ledger struct {
	Driver  string
	Tickets TicketLedger
	Routes  RouteWriter
	Outbox  *postgres.OutboxRepository
	Events  usecase.EventLog
	Trail   usecase.OutboxTrail
	Inbox   InboxStore
	Charges ChargeStore
	Tx      usecase.Transactor
}

type Factory struct {
	cfg      *config.Config
	logger   *slog.Logger
	pgPool   *pgxpool.Pool
	redisCli *go_redis.Client
	bolt     *boltdb.Ledger
	ledger   *Ledger
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		cfg:    cfg,
		logger: logger,
	}
}

func (f *Factory) Postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if f.pgPool != nil {
		return f.pgPool, nil
	}

	var pool *pgxpool.Pool
	var err error

	// Retry connection up to 5 times
	for i := 0; i < 5; i++ {
		pool, err = postgres.NewClient(ctx, postgres.Config{
			Host:     f.cfg.Postgres.Host,
			Port:     f.cfg.Postgres.Port,
			User:     f.cfg.Postgres.User,
			Password: f.cfg.Postgres.Password,
			DBName:   f.cfg.Postgres.DBName,
			SSLMode:  f.cfg.Postgres.SSLMode,
		})
		if err == nil {
			break
		}
		f.logger.Warn("failed to connect to postgres, retrying in 2s", "attempt", i+1, "max", 5, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to init postgres after retries: %w", err)
	}

	f.pgPool = pool
	return pool, nil
}

func (f *Factory) Redis(ctx context.Context) (*go_redis.Client, error) {
	if f.redisCli != nil {
		return f.redisCli, nil
	}

	client, err := redis.NewClient(ctx, redis.Config{
		Addr:     f.cfg.Redis.Addr,
		Password: f.cfg.Redis.Password,
		DB:       f.cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}

	f.redisCli = client
	return client, nil
}

// Ledger opens the ticket ledger selected by ledger.driver.
func (f *Factory) Ledger(ctx context.Context) (*Ledger, error) {
	if f.ledger != nil {
		return f.ledger, nil
	}

	switch f.cfg.Ledger.Driver {
	case config.LedgerBolt:
		l, err := boltdb.Open(f.cfg.Ledger.BoltPath)
		if err != nil {
			return nil, err
		}
		f.bolt = l
		f.ledger = &Ledger{
			Driver:  config.LedgerBolt,
			Tickets: l,
			Routes:  routeWriterFunc(l.PutRoute),
		}

	default:
		pool, err := f.Postgres(ctx)
		if err != nil {
			return nil, err
		}
		txManager := postgres.NewTxManager(pool)
		outboxRepo := postgres.NewOutboxRepository(pool)
		routeRepo := postgres.NewRouteRepository(pool)
		f.ledger = &Ledger{
			Driver:  config.LedgerPostgres,
			Tickets: postgres.NewTicketRepository(pool, txManager, outboxRepo, routeRepo),
			Routes:  routeRepo,
			Outbox:  outboxRepo,
			Events:  outboxRepo,
			Trail:   outboxRepo,
			Inbox:   postgres.NewInboxRepository(pool),
			Charges: postgres.NewChargeRepository(pool),
			Tx:      txManager,
		}
	}

	f.logger.Info("ledger opened", "driver", f.ledger.Driver)
	return f.ledger, nil
}

type routeWriterFunc func(ctx context.Context, r *ticket.Route) error

func (fn routeWriterFunc) Create(ctx context.Context, r *ticket.Route) error {
	return fn(ctx, r)
}

func (f *Factory) Gateway() *gateway.Client {
	return gateway.New(gateway.Config{
		BaseURL: f.cfg.Gateway.BaseURL,
		APIID:   f.cfg.Gateway.APIID,
		APIKey:  f.cfg.Gateway.APIKey,
		Timeout: f.cfg.Gateway.Timeout,
	}, nil)
}

// Notifier returns the SMS sender selected by sms.provider.
func (f *Factory) Notifier() (sms.Sender, error) {
	c := f.cfg.SMS
	switch c.Provider {
	case config.SMSProviderHDEV:
		if c.URL == "" {
			return nil, fmt.Errorf("sms.url is required for provider %q", c.Provider)
		}
		return sms.NewHDEV(sms.HDEVConfig{
			URL:      c.URL,
			SenderID: c.SenderID,
			Timeout:  c.Timeout,
		}, nil, f.logger), nil
	case config.SMSProviderTwilio:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFrom == "" {
			return nil, errors.New("sms.twilio_* settings are required for provider twilio")
		}
		return sms.NewTwilio(sms.TwilioConfig{
			AccountSID:  c.TwilioAccountSID,
			AuthToken:   c.TwilioAuthToken,
			From:        c.TwilioFrom,
			CountryCode: c.CountryCode,
		}, f.logger), nil
	default:
		return sms.Discard{Logger: f.logger}, nil
	}
}

// Workflow wires the settlement workflow to the gateway, the ledger and the
// notifier.
func (f *Factory) Workflow(ctx context.Context) (*settlement.Workflow, error) {
	ledger, err := f.Ledger(ctx)
	if err != nil {
		return nil, err
	}
	notifier, err := f.Notifier()
	if err != nil {
		return nil, err
	}
	return settlement.NewWorkflow(f.Gateway(), ledger.Tickets, notifier, f.cfg.Settlement.Policy(), f.logger), nil
}

// Runner runs background settlements until ctx is cancelled.
func (f *Factory) Runner(ctx context.Context, wf *settlement.Workflow) *settlement.Runner {
	return settlement.NewRunner(ctx, wf, f.cfg.Settlement.Concurrency, f.logger)
}

func (f *Factory) Close() {
	if f.pgPool != nil {
		f.pgPool.Close()
	}
	if f.redisCli != nil {
		f.redisCli.Close()
	}
	if f.bolt != nil {
		f.bolt.Close()
	}
}
