package sms

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	From        string
	CountryCode string
}

// messageCreator is the part of the Twilio REST client used here.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

type Twilio struct {
	api         messageCreator
	from        string
	countryCode string
	logger      *slog.Logger
}

func NewTwilio(cfg TwilioConfig, logger *slog.Logger) *Twilio {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	if logger == nil {
		logger = slog.Default()
	}
	return &Twilio{
		api:         client.Api,
		from:        cfg.From,
		countryCode: cfg.CountryCode,
		logger:      logger,
	}
}

func (s *Twilio) Send(ctx context.Context, phoneNumber, message string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(E164(phoneNumber, s.countryCode))
	params.SetFrom(s.from)
	params.SetBody(message)

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio create message: %w", err)
	}

	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	s.logger.DebugContext(ctx, "twilio message queued", "phone", phoneNumber, "sid", sid)
	return nil
}
