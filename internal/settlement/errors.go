package settlement

import (
	"errors"

	"github.com/hdevtech/ticket/internal/domain/payment"
	"github.com/hdevtech/ticket/internal/domain/ticket"
)

var (
	ErrInvalidTxRef = errors.New("settlement: empty tx_ref")
	// ErrTimedOut is returned when the retry policy or the caller's deadline
	// runs out while the gateway still reports pending.
	ErrTimedOut = errors.New("settlement timed out")

	ErrNotFound           = payment.ErrNotFound
	ErrGatewayUnreachable = payment.ErrGatewayUnreachable
	ErrTicketNotFound     = ticket.ErrNotFound
)
