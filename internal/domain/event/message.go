package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hdevtech/ticket/internal/domain/outbox"
)

// Message is the Kafka envelope for ledger events. CorrelationID is the
// tx_ref of the ticket the event is about.
type Message struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	CausationID   string          `json:"causation_id,omitempty"`
	Producer      string          `json:"producer"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// FromOutbox wraps a stored outbox row for publishing.
func FromOutbox(e *outbox.Event, at time.Time) Message {
	return Message{
		ID:            e.ID,
		Type:          e.EventType,
		CorrelationID: e.CorrelationID,
		CausationID:   e.CausationID,
		Producer:      e.Producer,
		OccurredAt:    at.UTC(),
		Payload:       e.Payload,
	}
}

// Key is the partition key: events of one ticket stay ordered.
func (m Message) Key() []byte {
	if m.CorrelationID != "" {
		return []byte(m.CorrelationID)
	}
	return []byte(m.ID)
}

// DecodePayload unmarshals the payload of m into v.
func (m Message) DecodePayload(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", m.Type, err)
	}
	return nil
}
