package payment

import (
	"errors"
	"fmt"
	"time"
)

// Status is the payment state of a ticket. The same values are used by the
// ledger, the gateway adapter and the settlement workflow.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

var (
	// ErrNotFound is returned by the gateway when it has no record of a tx_ref.
	ErrNotFound = errors.New("payment not found")
	// ErrGatewayUnreachable wraps transport failures talking to the gateway.
	ErrGatewayUnreachable = errors.New("payment gateway unreachable")
	// ErrUnknownStatus is returned when a status string is not one of the known values.
	ErrUnknownStatus = errors.New("unknown payment status")
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusSuccess, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// IsTerminal reports whether s is absorbing.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// CanTransitionTo reports whether the ledger may move from s to target.
// Only pending may change, and only to a terminal value.
func (s Status) CanTransitionTo(target Status) bool {
	return s == StatusPending && target.IsTerminal()
}

func (s Status) String() string {
	return string(s)
}

// Snapshot is the gateway's current view of a tx_ref.
type Snapshot struct {
	TxRef  string `json:"tx_ref"`
	Status Status `json:"status"`
	TxID   string `json:"tx_id,omitempty"`
	Amount int64  `json:"amount"`
	Tel    string `json:"tel,omitempty"`
}

// Charge is a request to collect money from a payer's mobile wallet.
type Charge struct {
	Tel    string
	Amount int64
	TxRef  string
	// Link is where the provider sends the payer after confirmation.
	Link string
}

// ChargeResult is the provider's answer to a charge request.
type ChargeResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Accepted reports whether the provider took the charge request.
func (r ChargeResult) Accepted() bool {
	return r.Status == string(StatusSuccess)
}

// Attempt is the stored record of one charge request and the provider's answer.
type Attempt struct {
	TxRef     string    `json:"tx_ref"`
	Tel       string    `json:"tel"`
	Amount    int64     `json:"amount"`
	Accepted  bool      `json:"accepted"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
