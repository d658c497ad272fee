package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hdevtech/ticket/internal/domain/outbox"
	"github.com/hdevtech/ticket/internal/domain/payment"
	"github.com/hdevtech/ticket/internal/domain/ticket"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const ticketColumns = `
	ticket_id, client_id, route_id, amount, date, phone_number,
	COALESCE(tx_id, ''), tx_ref, payment_status, updated_at`

// TicketRepository is the postgres ticket ledger. Status changes and their
// outbox events are written in one transaction.
type TicketRepository struct {
	pool       *pgxpool.Pool
	txManager  Transactor
	outboxRepo *OutboxRepository
	routeRepo  *RouteRepository
}

func NewTicketRepository(pool *pgxpool.Pool, txManager Transactor, outboxRepo *OutboxRepository, routeRepo *RouteRepository) *TicketRepository {
	return &TicketRepository{
		pool:       pool,
		txManager:  txManager,
		outboxRepo: outboxRepo,
		routeRepo:  routeRepo,
	}
}

// Create inserts a pending ticket and fills in the assigned ticket_id and date.
func (r *TicketRepository) Create(ctx context.Context, t *ticket.Ticket) error {
	const sql = `
		INSERT INTO tickets (client_id, route_id, amount, date, phone_number, tx_ref, payment_status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $4)
		RETURNING ticket_id, date, updated_at
	`

	date := t.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}

	err := conn(ctx, r.pool).QueryRow(ctx, sql,
		t.ClientID, t.RouteID, t.Amount, date, t.PhoneNumber, t.TxRef,
	).Scan(&t.ID, &t.Date, &t.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ticket.ErrDuplicateTxRef, t.TxRef)
		}
		return fmt.Errorf("insert ticket: %w", err)
	}

	t.PaymentStatus = payment.StatusPending
	t.TxID = ""
	return nil
}

func (r *TicketRepository) GetByTxRef(ctx context.Context, txRef string) (*ticket.Ticket, error) {
	sql := `SELECT` + ticketColumns + ` FROM tickets WHERE tx_ref = $1`

	t, err := scanTicket(conn(ctx, r.pool).QueryRow(ctx, sql, txRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ticket.ErrNotFound
		}
		return nil, fmt.Errorf("get ticket by tx_ref: %w", err)
	}
	return t, nil
}

// settleTicketSQL only matches a ticket that is still pending.
const settleTicketSQL = `
	UPDATE tickets
	SET payment_status = $2, tx_id = NULLIF($3, ''), updated_at = $4
	WHERE tx_ref = $1 AND payment_status = 'pending'
`

// UpdateStatus moves a pending ticket to a terminal status. It reports false
// without error when the ticket is already terminal or does not exist.
func (r *TicketRepository) UpdateStatus(ctx context.Context, txRef, txID string, status payment.Status) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("update ticket status: %w: %q is not terminal", payment.ErrUnknownStatus, status)
	}

	applied := false
	err := r.txManager.WithinTransaction(ctx, func(txCtx context.Context) error {
		now := time.Now().UTC()

		tag, err := conn(txCtx, r.pool).Exec(txCtx, settleTicketSQL, txRef, string(status), txID, now)
		if err != nil {
			return fmt.Errorf("update ticket status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		applied = true

		ev, err := outbox.NewEvent(outbox.SettledType(string(status)), txRef, "", outbox.TicketSettled{
			TxRef:     txRef,
			TxID:      txID,
			Status:    string(status),
			SettledAt: now,
		}, now)
		if err != nil {
			return err
		}
		return r.outboxRepo.Create(txCtx, ev)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *TicketRepository) GetRouteDetails(ctx context.Context, routeID int64) (*ticket.Route, error) {
	return r.routeRepo.GetByID(ctx, routeID)
}

// ListPending returns pending tickets created before olderThan, oldest first.
func (r *TicketRepository) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*ticket.Ticket, error) {
	sql := `SELECT` + ticketColumns + `
		FROM tickets
		WHERE payment_status = 'pending' AND date < $1
		ORDER BY date ASC
		LIMIT $2`

	rows, err := conn(ctx, r.pool).Query(ctx, sql, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*ticket.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending tickets: %w", err)
	}

	return tickets, nil
}

func scanTicket(row pgx.Row) (*ticket.Ticket, error) {
	var (
		t      ticket.Ticket
		status string
	)
	err := row.Scan(
		&t.ID, &t.ClientID, &t.RouteID, &t.Amount, &t.Date, &t.PhoneNumber,
		&t.TxID, &t.TxRef, &status, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.PaymentStatus, err = payment.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
