package ticket

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hdevtech/ticket/internal/domain/payment"
)

var (
	ErrNotFound      = errors.New("ticket not found")
	ErrRouteNotFound = errors.New("route not found")
	// ErrDuplicateTxRef is returned when a ticket already uses the tx_ref.
	ErrDuplicateTxRef = errors.New("duplicate tx_ref")
)

type Ticket struct {
	ID            int64          `json:"ticket_id"`
	ClientID      int64          `json:"client_id"`
	RouteID       int64          `json:"route_id"`
	Amount        int64          `json:"amount"`
	Date          time.Time      `json:"date"`
	PhoneNumber   string         `json:"phone_number"`
	TxID          string         `json:"tx_id,omitempty"`
	TxRef         string         `json:"tx_ref"`
	PaymentStatus payment.Status `json:"payment_status"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Route is the route information shown next to a ticket.
type Route struct {
	ID          int64     `json:"route_id"`
	From        string    `json:"from"`
	Destination string    `json:"destination"`
	Car         string    `json:"car"`
	Price       int64     `json:"price"`
	Seats       int       `json:"seats"`
	LeaveDate   time.Time `json:"leave_date"`
}

// ReceiptPath is the deep link of the receipt view for txRef.
func ReceiptPath(txRef string) string {
	return "/receipt/" + url.PathEscape(txRef) + "/view"
}

// WaitingPath is where a purchase hands off to settlement.
func WaitingPath(txRef string) string {
	return "/waiting/" + url.PathEscape(txRef)
}

// BrowsePath is the retry target after a failed payment.
const BrowsePath = "/routes"

// QRPayload is the newline separated text encoded in the receipt QR code.
func QRPayload(t *Ticket, r *Route) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket ID: %d\n", t.ID)
	fmt.Fprintf(&b, "Client ID: %d\n", t.ClientID)
	fmt.Fprintf(&b, "Route ID: %d\n", t.RouteID)
	if r != nil {
		fmt.Fprintf(&b, "Route: %s to %s\n", r.From, r.Destination)
		fmt.Fprintf(&b, "Leave Date: %s\n", r.LeaveDate.Format(time.RFC1123))
	} else {
		b.WriteString("Route: N/A\nLeave Date: N/A\n")
	}
	fmt.Fprintf(&b, "Amount: %d\n", t.Amount)
	fmt.Fprintf(&b, "Payment Status: %s", t.PaymentStatus)
	return b.String()
}
