package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hdevtech/ticket/internal/domain/ticket"
)

const qrServiceURL = "https://api.qrserver.com/v1/create-qr-code/"

type ReceiptReader interface {
	GetByTxRef(ctx context.Context, txRef string) (*ticket.Ticket, error)
	GetRouteDetails(ctx context.Context, routeID int64) (*ticket.Route, error)
}

type ReceiptCache interface {
	Get(ctx context.Context, key string, v any) (bool, error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
}

type Receipt struct {
	Ticket     *ticket.Ticket `json:"ticket"`
	Route      *ticket.Route  `json:"route,omitempty"`
	QRText     string         `json:"qr_text"`
	QRImageURL string         `json:"qr_image_url"`
	URL        string         `json:"url"`
}

type GetReceipt struct {
	tickets   ReceiptReader
	cache     ReceiptCache
	ttl       time.Duration
	publicURL string
}

// NewGetReceipt builds the receipt view. cache may be nil.
func NewGetReceipt(tickets ReceiptReader, cache ReceiptCache, ttl time.Duration, publicURL string) *GetReceipt {
	return &GetReceipt{
		tickets:   tickets,
		cache:     cache,
		ttl:       ttl,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// QRImageURL is the image URL of a QR code encoding text.
func QRImageURL(text string) string {
	q := url.Values{}
	q.Set("data", text)
	q.Set("size", "200x200")
	return qrServiceURL + "?" + q.Encode()
}

// Execute returns the receipt of txRef. Only settled receipts are cached.
func (uc *GetReceipt) Execute(ctx context.Context, txRef string) (*Receipt, error) {
	if uc.cache != nil {
		var cached Receipt
		hit, err := uc.cache.Get(ctx, txRef, &cached)
		if err != nil {
			slog.Warn("receipt cache unavailable", "tx_ref", txRef, "error", err)
		} else if hit {
			return &cached, nil
		}
	}

	t, err := uc.tickets.GetByTxRef(ctx, txRef)
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}

	route, err := uc.tickets.GetRouteDetails(ctx, t.RouteID)
	if err != nil && !errors.Is(err, ticket.ErrRouteNotFound) {
		return nil, fmt.Errorf("get route: %w", err)
	}

	text := ticket.QRPayload(t, route)
	r := &Receipt{
		Ticket:     t,
		Route:      route,
		QRText:     text,
		QRImageURL: QRImageURL(text),
		URL:        uc.publicURL + ticket.ReceiptPath(txRef),
	}

	if uc.cache != nil && t.PaymentStatus.IsTerminal() {
		if err := uc.cache.Set(ctx, txRef, r, uc.ttl); err != nil {
			slog.Warn("failed to cache receipt", "tx_ref", txRef, "error", err)
		}
	}
	return r, nil
}
