package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hdevtech/ticket/internal/domain/payment"
	"github.com/hdevtech/ticket/internal/domain/ticket"
)

type Gateway interface {
	// GetStatus returns payment.ErrNotFound when the gateway has no record
	// of txRef and wraps payment.ErrGatewayUnreachable on transport errors.
	GetStatus(ctx context.Context, txRef string) (payment.Snapshot, error)
}

type Ledger interface {
	GetByTxRef(ctx context.Context, txRef string) (*ticket.Ticket, error)
	// UpdateStatus reports true only if it moved the ticket out of pending.
	UpdateStatus(ctx context.Context, txRef, txID string, status payment.Status) (bool, error)
	GetRouteDetails(ctx context.Context, routeID int64) (*ticket.Route, error)
}

type Notifier interface {
	Send(ctx context.Context, phoneNumber, message string) error
}

// Outcome is the terminal result of a settlement.
type Outcome struct {
	TxRef  string         `json:"tx_ref"`
	Status payment.Status `json:"status"`
	TxID   string         `json:"tx_id,omitempty"`
	// Applied is false when the ticket was already terminal, i.e. another
	// settlement of the same tx_ref wrote it first.
	Applied  bool   `json:"applied"`
	Notified bool   `json:"notified"`
	Attempts int    `json:"attempts"`
	Redirect string `json:"redirect"`
}

// Progress is reported after every poll.
type Progress struct {
	TxRef      string            `json:"tx_ref"`
	Attempt    int               `json:"attempt"`
	Status     payment.Status    `json:"status"`
	Snapshot   *payment.Snapshot `json:"snapshot,omitempty"`
	Ticket     *ticket.Ticket    `json:"ticket,omitempty"`
	Route      *ticket.Route     `json:"route,omitempty"`
	NextPollMS int64             `json:"next_poll_ms,omitempty"`
	Error      string            `json:"error,omitempty"`
	Outcome    *Outcome          `json:"outcome,omitempty"`
}

type Workflow struct {
	gateway  Gateway
	ledger   Ledger
	notifier Notifier
	policy   Policy
	logger   *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

func NewWorkflow(gateway Gateway, ledger Ledger, notifier Notifier, policy Policy, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		gateway:  gateway,
		ledger:   ledger,
		notifier: notifier,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
		after:    time.After,
	}
}

func (w *Workflow) Policy() Policy {
	return w.policy
}

// Settle polls the gateway for txRef until it reports a terminal status,
// then records it in the ledger and notifies the payer on success.
//
// Cancelling ctx stops the next poll from being scheduled. Once a terminal
// snapshot has been read, the ledger write and the notification run to
// completion regardless of ctx.
func (w *Workflow) Settle(ctx context.Context, txRef string) (*Outcome, error) {
	return w.SettleWithProgress(ctx, txRef, nil)
}

// SettleWithProgress is Settle with a callback invoked synchronously after
// every poll, including the terminal one.
func (w *Workflow) SettleWithProgress(ctx context.Context, txRef string, observe func(Progress)) (*Outcome, error) {
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return nil, ErrInvalidTxRef
	}
	if observe == nil {
		observe = func(Progress) {}
	}

	started := w.now()
	defer func() {
		settleDuration.Observe(w.now().Sub(started).Seconds())
	}()

	logger := w.logger.With("tx_ref", txRef)
	failures := 0

	for attempt := 1; ; attempt++ {
		p := Progress{TxRef: txRef, Attempt: attempt, Status: payment.StatusPending}
		if attempt == 1 {
			p.Ticket, p.Route = w.describe(ctx, txRef, logger)
		}

		snap, err := w.gateway.GetStatus(ctx, txRef)
		switch {
		case err == nil:
			failures = 0
			p.Snapshot = &snap

			decision, err := Transition(payment.StatusPending, snap)
			if err != nil {
				return nil, err
			}
			if decision.Terminal() {
				pollsTotal.WithLabelValues("terminal").Inc()
				out, err := w.finish(context.WithoutCancel(ctx), txRef, snap, attempt, logger)
				if err != nil {
					p.Error = err.Error()
					observe(p)
					return nil, err
				}
				p.Status = out.Status
				p.Outcome = out
				observe(p)
				return out, nil
			}
			pollsTotal.WithLabelValues("pending").Inc()

		case ctx.Err() != nil:
			return nil, w.stopped(ctx, attempt, logger)

		case errors.Is(err, payment.ErrGatewayUnreachable):
			pollsTotal.WithLabelValues("unreachable").Inc()
			failures++
			p.Error = err.Error()
			logger.Warn("gateway unreachable, will retry", "attempt", attempt, "error", err)

		case errors.Is(err, payment.ErrNotFound):
			pollsTotal.WithLabelValues("not_found").Inc()
			p.Error = err.Error()
			observe(p)
			return nil, fmt.Errorf("%w: %s", ErrNotFound, txRef)

		default:
			p.Error = err.Error()
			observe(p)
			return nil, fmt.Errorf("get payment status: %w", err)
		}

		delay := w.policy.Delay(failures)
		if w.policy.Exhausted(attempt, w.now().Sub(started)+delay) {
			logger.Warn("settlement gave up while payment pending", "attempts", attempt)
			p.Error = ErrTimedOut.Error()
			observe(p)
			return nil, fmt.Errorf("%w after %d attempts", ErrTimedOut, attempt)
		}

		p.NextPollMS = delay.Milliseconds()
		observe(p)

		select {
		case <-ctx.Done():
			return nil, w.stopped(ctx, attempt, logger)
		case <-w.after(delay):
		}
	}
}

func (w *Workflow) stopped(ctx context.Context, attempts int, logger *slog.Logger) error {
	err := ctx.Err()
	logger.Info("settlement stopped", "attempts", attempts, "reason", err)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimedOut, err)
	}
	return err
}

// finish applies a terminal snapshot. ctx must not be cancellable: a write
// that has started is carried through together with its notification.
func (w *Workflow) finish(ctx context.Context, txRef string, snap payment.Snapshot, attempts int, logger *slog.Logger) (*Outcome, error) {
	t, err := w.ledger.GetByTxRef(ctx, txRef)
	if err != nil {
		if errors.Is(err, ticket.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, txRef)
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}

	decision, err := Transition(t.PaymentStatus, snap)
	if err != nil {
		return nil, err
	}

	out := &Outcome{TxRef: txRef, Attempts: attempts}

	if !decision.Has(EffectWriteLedger) {
		logger.Info("ticket already settled", "status", t.PaymentStatus)
		return w.converged(out, t), nil
	}

	applied, err := w.ledger.UpdateStatus(ctx, txRef, snap.TxID, decision.Next)
	if err != nil {
		return nil, fmt.Errorf("update ticket status: %w", err)
	}
	if !applied {
		current, err := w.ledger.GetByTxRef(ctx, txRef)
		if err != nil {
			return nil, fmt.Errorf("reload ticket: %w", err)
		}
		logger.Info("ticket settled concurrently", "status", current.PaymentStatus)
		return w.converged(out, current), nil
	}

	out.Applied = true
	out.Status = decision.Next
	out.TxID = snap.TxID
	out.Redirect = redirectFor(txRef, decision.Next)
	outcomesTotal.WithLabelValues(string(out.Status), "true").Inc()
	logger.Info("ticket settled", "status", out.Status, "tx_id", out.TxID, "attempts", attempts)

	if decision.Has(EffectNotify) {
		out.Notified = w.notify(ctx, t, snap, logger)
	}

	return out, nil
}

func (w *Workflow) converged(out *Outcome, t *ticket.Ticket) *Outcome {
	out.Status = t.PaymentStatus
	out.TxID = t.TxID
	out.Redirect = redirectFor(t.TxRef, t.PaymentStatus)
	outcomesTotal.WithLabelValues(string(out.Status), "false").Inc()
	return out
}

func (w *Workflow) notify(ctx context.Context, t *ticket.Ticket, snap payment.Snapshot, logger *slog.Logger) bool {
	phone := t.PhoneNumber
	if phone == "" {
		phone = snap.Tel
	}
	amount := snap.Amount
	if amount == 0 {
		amount = t.Amount
	}

	msg := NotificationMessage(snap.TxID, t.TxRef, amount)
	if err := w.notifier.Send(ctx, phone, msg); err != nil {
		notificationFailures.Inc()
		logger.Error("failed to send payment notification", "phone", phone, "error", err)
		return false
	}

	logger.Info("payment notification sent", "phone", phone, "amount", amount)
	return true
}

// describe looks up the ticket and its route for progress reporting.
func (w *Workflow) describe(ctx context.Context, txRef string, logger *slog.Logger) (*ticket.Ticket, *ticket.Route) {
	t, err := w.ledger.GetByTxRef(ctx, txRef)
	if err != nil {
		logger.Debug("ticket details unavailable", "error", err)
		return nil, nil
	}
	r, err := w.ledger.GetRouteDetails(ctx, t.RouteID)
	if err != nil {
		logger.Debug("route details unavailable", "route_id", t.RouteID, "error", err)
		return t, nil
	}
	return t, r
}

func redirectFor(txRef string, status payment.Status) string {
	if status == payment.StatusSuccess {
		return ticket.ReceiptPath(txRef)
	}
	return ticket.BrowsePath
}
