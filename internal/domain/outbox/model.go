package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types written by the ledger.
const (
	TypeTicketPurchased     = "TicketPurchased"
	TypeTicketPaid          = "TicketPaid"
	TypeTicketPaymentFailed = "TicketPaymentFailed"
)

const (
	StatusNew        = "new"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
)

// Producer is the name stamped on events written by this service.
const Producer = "ticket-service"

type Event struct {
	ID            string    `json:"id"`
	EventType     string    `json:"event_type"`
	Payload       []byte    `json:"payload"`
	Status        string    `json:"status"`
	CorrelationID string    `json:"correlation_id"`
	CausationID   string    `json:"causation_id"`
	Producer      string    `json:"producer"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewEvent builds a new outbox row for a ticket identified by txRef.
func NewEvent(eventType, txRef, causationID string, payload any, now time.Time) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Event{
		ID:            uuid.New().String(),
		EventType:     eventType,
		Payload:       data,
		Status:        StatusNew,
		CorrelationID: txRef,
		CausationID:   causationID,
		Producer:      Producer,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// SettledType is the event type recorded when a ticket reaches status.
func SettledType(status string) string {
	if status == "success" {
		return TypeTicketPaid
	}
	return TypeTicketPaymentFailed
}

type Repository interface {
	Create(ctx context.Context, event *Event) error
	FetchBatch(ctx context.Context, limit int) ([]*Event, error)
	MarkProcessed(ctx context.Context, ids []string) error
	MarkFailed(ctx context.Context, ids []string) error
}

// TicketPurchased is the payload of TypeTicketPurchased.
type TicketPurchased struct {
	TicketID int64  `json:"ticket_id"`
	TxRef    string `json:"tx_ref"`
	ClientID int64  `json:"client_id"`
	RouteID  int64  `json:"route_id"`
	Amount   int64  `json:"amount"`
}

// TicketSettled is the payload of TypeTicketPaid and TypeTicketPaymentFailed.
type TicketSettled struct {
	TxRef     string    `json:"tx_ref"`
	TxID      string    `json:"tx_id"`
	Status    string    `json:"status"`
	SettledAt time.Time `json:"settled_at"`
}
