package settlement

import (
	"fmt"

	"github.com/hdevtech/ticket/internal/domain/payment"
)

// Effect is a side effect requested by a transition. Effects are carried out
// by the Workflow in the order they appear in a Decision.
type Effect uint8

const (
	// EffectSchedulePoll waits one policy delay and reads the gateway again.
	EffectSchedulePoll Effect = iota + 1
	// EffectWriteLedger moves the ticket out of pending (compare-and-swap).
	EffectWriteLedger
	// EffectNotify sends the payer an SMS. Only runs when the ledger write
	// was applied by this settlement.
	EffectNotify
)

func (e Effect) String() string {
	switch e {
	case EffectSchedulePoll:
		return "schedule_poll"
	case EffectWriteLedger:
		return "write_ledger"
	case EffectNotify:
		return "notify"
	default:
		return fmt.Sprintf("effect(%d)", uint8(e))
	}
}

// Decision is the result of a transition.
type Decision struct {
	Next    payment.Status
	Effects []Effect
}

func (d Decision) Has(e Effect) bool {
	for _, x := range d.Effects {
		if x == e {
			return true
		}
	}
	return false
}

func (d Decision) Terminal() bool {
	return d.Next.IsTerminal()
}

// Transition computes the next ticket state from the ledger's current status
// and a fresh gateway snapshot. It has no side effects.
//
// Terminal states are absorbing: whatever the gateway says afterwards, a
// success or failed ticket yields itself with no effects.
func Transition(current payment.Status, snap payment.Snapshot) (Decision, error) {
	switch current {
	case payment.StatusSuccess, payment.StatusFailed:
		return Decision{Next: current}, nil
	case payment.StatusPending:
	default:
		return Decision{}, fmt.Errorf("ticket status: %w: %q", payment.ErrUnknownStatus, current)
	}

	switch snap.Status {
	case payment.StatusPending:
		return Decision{Next: payment.StatusPending, Effects: []Effect{EffectSchedulePoll}}, nil
	case payment.StatusSuccess:
		return Decision{Next: payment.StatusSuccess, Effects: []Effect{EffectWriteLedger, EffectNotify}}, nil
	case payment.StatusFailed:
		return Decision{Next: payment.StatusFailed, Effects: []Effect{EffectWriteLedger}}, nil
	default:
		return Decision{}, fmt.Errorf("gateway status: %w: %q", payment.ErrUnknownStatus, snap.Status)
	}
}

// NotificationMessage is the SMS sent to the payer after a successful payment.
func NotificationMessage(txID, txRef string, amount int64) string {
	return fmt.Sprintf(
		"Dear Ticket Contributor, your ticket payment has been received. Transaction ID: %s, Transaction Reference: %s, Amount: %d Rwf. Thank you!",
		txID, txRef, amount,
	)
}
