package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/hdevtech/ticket/internal/domain/inbox"
	"github.com/hdevtech/ticket/internal/domain/outbox"
	"github.com/hdevtech/ticket/internal/domain/payment"
	"github.com/hdevtech/ticket/internal/domain/ticket"
)

type OutboxTrail interface {
	ListByCorrelationID(ctx context.Context, correlationID string) ([]*outbox.Event, error)
}

type InboxTrail interface {
	ListByCorrelationID(ctx context.Context, correlationID string) ([]*inbox.Event, error)
}

type ChargeHistory interface {
	ListByTxRef(ctx context.Context, txRef string) ([]*payment.Attempt, error)
}

// SettlementView is what the waiting screen shows for a tx_ref.
type SettlementView struct {
	Ticket  *ticket.Ticket     `json:"ticket"`
	Route   *ticket.Route      `json:"route,omitempty"`
	Outbox  []*outbox.Event    `json:"outbox"`
	Inbox   []*inbox.Event     `json:"inbox"`
	Charges []*payment.Attempt `json:"charges"`
}

type GetSettlement struct {
	tickets ReceiptReader
	outbox  OutboxTrail
	inbox   InboxTrail
	charges ChargeHistory
}

// NewGetSettlement builds the settlement view. The trails may be nil.
func NewGetSettlement(tickets ReceiptReader, outboxTrail OutboxTrail, inboxTrail InboxTrail, charges ChargeHistory) *GetSettlement {
	return &GetSettlement{
		tickets: tickets,
		outbox:  outboxTrail,
		inbox:   inboxTrail,
		charges: charges,
	}
}

func (uc *GetSettlement) Execute(ctx context.Context, txRef string) (*SettlementView, error) {
	t, err := uc.tickets.GetByTxRef(ctx, txRef)
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}

	view := &SettlementView{
		Ticket:  t,
		Outbox:  []*outbox.Event{},
		Inbox:   []*inbox.Event{},
		Charges: []*payment.Attempt{},
	}

	view.Route, err = uc.tickets.GetRouteDetails(ctx, t.RouteID)
	if err != nil && !errors.Is(err, ticket.ErrRouteNotFound) {
		return nil, fmt.Errorf("get route: %w", err)
	}

	if uc.outbox != nil {
		events, err := uc.outbox.ListByCorrelationID(ctx, txRef)
		if err != nil {
			return nil, fmt.Errorf("get outbox events: %w", err)
		}
		if events != nil {
			view.Outbox = events
		}
	}

	if uc.inbox != nil {
		events, err := uc.inbox.ListByCorrelationID(ctx, txRef)
		if err != nil {
			return nil, fmt.Errorf("get inbox events: %w", err)
		}
		if events != nil {
			view.Inbox = events
		}
	}

	if uc.charges != nil {
		attempts, err := uc.charges.ListByTxRef(ctx, txRef)
		if err != nil {
			return nil, fmt.Errorf("get charges: %w", err)
		}
		if attempts != nil {
			view.Charges = attempts
		}
	}

	return view, nil
}
