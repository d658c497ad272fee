package inbox

import "time"

// Event records that a consumer has handled a Kafka message. A second
// delivery of the same EventID to the same Consumer is skipped.
// CorrelationID is the tx_ref the message was about.
type Event struct {
	Consumer      string    `json:"consumer"`
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	CorrelationID string    `json:"correlation_id"`
	ProcessedAt   time.Time `json:"processed_at"`
}
