// Package sms sends payer notifications. The provider is chosen by config:
// the HDEV SMS API, Twilio, or a sender that only logs.
package sms

import (
	"context"
	"log/slog"
	"strings"
)

// Sender is satisfied by every provider in this package.
type Sender interface {
	Send(ctx context.Context, phoneNumber, message string) error
}

// Discard logs messages instead of sending them.
type Discard struct {
	Logger *slog.Logger
}

func (d Discard) Send(ctx context.Context, phoneNumber, message string) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "sms not sent, provider disabled", "phone", phoneNumber, "message", message)
	return nil
}

// E164 turns a local number such as 0788123456 into +250788123456 for
// countryCode "250". Numbers that already start with + are returned as is.
func E164(phoneNumber, countryCode string) string {
	p := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '(' || r == ')' {
			return -1
		}
		return r
	}, phoneNumber)

	switch {
	case p == "" || strings.HasPrefix(p, "+"):
		return p
	case strings.HasPrefix(p, "00"):
		return "+" + p[2:]
	case strings.HasPrefix(p, countryCode):
		return "+" + p
	case strings.HasPrefix(p, "0"):
		return "+" + countryCode + p[1:]
	default:
		return "+" + countryCode + p
	}
}
