package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hdevtech/ticket/internal/domain/outbox"
	"github.com/hdevtech/ticket/internal/domain/payment"
	"github.com/hdevtech/ticket/internal/domain/ticket"
	"github.com/hdevtech/ticket/internal/session"

	"github.com/google/uuid"
)

var (
	// ErrChargeRejected is returned when the gateway refuses the charge
	// request. No ticket is created.
	ErrChargeRejected  = errors.New("charge rejected")
	ErrInvalidPurchase = errors.New("invalid purchase")
)

// TxRefLength is the length of a minted tx_ref.
const TxRefLength = 12

type TicketStore interface {
	Create(ctx context.Context, t *ticket.Ticket) error
	GetRouteDetails(ctx context.Context, routeID int64) (*ticket.Route, error)
}

type ChargeGateway interface {
	Initiate(ctx context.Context, ch payment.Charge) (payment.ChargeResult, error)
}

type ChargeLog interface {
	Create(ctx context.Context, a *payment.Attempt) error
}

type EventLog interface {
	Create(ctx context.Context, e *outbox.Event) error
}

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// PurchaseDeps are the collaborators of PurchaseTicket. Charges, Events and
// Tx are optional: the embedded ledger has none of them.
type PurchaseDeps struct {
	Tickets TicketStore
	Gateway ChargeGateway
	Charges ChargeLog
	Events  EventLog
	Tx      Transactor
}

type PurchaseTicket struct {
	deps      PurchaseDeps
	publicURL string

	now      func() time.Time
	newTxRef func() string
}

func NewPurchaseTicket(deps PurchaseDeps, publicURL string) *PurchaseTicket {
	return &PurchaseTicket{
		deps:      deps,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
		newTxRef:  NewTxRef,
	}
}

type PurchaseParams struct {
	RouteID     int64  `json:"route_id"`
	PhoneNumber string `json:"phone_number"`
}

type PurchaseResult struct {
	Ticket   *ticket.Ticket `json:"ticket"`
	Route    *ticket.Route  `json:"route"`
	Redirect string         `json:"redirect"`
}

// NewTxRef mints a tx_ref of TxRefLength lowercase alphanumerics.
func NewTxRef() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:TxRefLength]
}

// Execute charges the session's client for one seat on the route and
// records the pending ticket.
func (uc *PurchaseTicket) Execute(ctx context.Context, params PurchaseParams) (*PurchaseResult, error) {
	s, err := session.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	phone := strings.TrimSpace(params.PhoneNumber)
	if params.RouteID <= 0 || phone == "" {
		return nil, fmt.Errorf("%w: route_id and phone_number are required", ErrInvalidPurchase)
	}

	route, err := uc.deps.Tickets.GetRouteDetails(ctx, params.RouteID)
	if err != nil {
		return nil, fmt.Errorf("get route: %w", err)
	}

	txRef := uc.newTxRef()
	charge := payment.Charge{
		Tel:    phone,
		Amount: route.Price,
		TxRef:  txRef,
		Link:   uc.publicURL + ticket.ReceiptPath(txRef),
	}

	res, err := uc.deps.Gateway.Initiate(ctx, charge)
	if err != nil {
		return nil, fmt.Errorf("initiate charge: %w", err)
	}

	now := uc.now().UTC()
	attempt := &payment.Attempt{
		TxRef:     txRef,
		Tel:       phone,
		Amount:    route.Price,
		Accepted:  res.Accepted(),
		Message:   res.Message,
		CreatedAt: now,
	}

	if !res.Accepted() {
		if uc.deps.Charges != nil {
			if err := uc.deps.Charges.Create(ctx, attempt); err != nil {
				slog.Warn("failed to record rejected charge", "tx_ref", txRef, "error", err)
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrChargeRejected, res.Message)
	}

	t := &ticket.Ticket{
		ClientID:      s.ClientID,
		RouteID:       route.ID,
		Amount:        route.Price,
		Date:          now,
		PhoneNumber:   phone,
		TxRef:         txRef,
		PaymentStatus: payment.StatusPending,
	}

	record := func(ctx context.Context) error {
		if err := uc.deps.Tickets.Create(ctx, t); err != nil {
			return err
		}
		if uc.deps.Charges != nil {
			if err := uc.deps.Charges.Create(ctx, attempt); err != nil {
				return err
			}
		}
		if uc.deps.Events == nil {
			return nil
		}
		ev, err := outbox.NewEvent(outbox.TypeTicketPurchased, txRef, "", outbox.TicketPurchased{
			TicketID: t.ID,
			TxRef:    txRef,
			ClientID: t.ClientID,
			RouteID:  t.RouteID,
			Amount:   t.Amount,
		}, now)
		if err != nil {
			return err
		}
		return uc.deps.Events.Create(ctx, ev)
	}

	if uc.deps.Tx != nil {
		err = uc.deps.Tx.WithinTransaction(ctx, record)
	} else {
		err = record(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("record ticket %s: %w", txRef, err)
	}

	return &PurchaseResult{
		Ticket:   t,
		Route:    route,
		Redirect: ticket.WaitingPath(txRef),
	}, nil
}
