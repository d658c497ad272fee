package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hdevtech/ticket/internal/domain/payment"
	"github.com/hdevtech/ticket/internal/domain/ticket"
)

type gatewayReply struct {
	snap payment.Snapshot
	err  error
}

// scriptedGateway replays replies in order and repeats the last one.
type scriptedGateway struct {
	mu      sync.Mutex
	replies []gatewayReply
	calls   int
}

func (g *scriptedGateway) GetStatus(ctx context.Context, txRef string) (payment.Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	i := g.calls
	if i >= len(g.replies) {
		i = len(g.replies) - 1
	}
	g.calls++

	r := g.replies[i]
	if r.err != nil {
		return payment.Snapshot{}, r.err
	}
	snap := r.snap
	snap.TxRef = txRef
	return snap, nil
}

func (g *scriptedGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func pending() gatewayReply {
	return gatewayReply{snap: payment.Snapshot{Status: payment.StatusPending, Amount: 500, Tel: "0780000000"}}
}

func succeeded(txID string, amount int64) gatewayReply {
	return gatewayReply{snap: payment.Snapshot{Status: payment.StatusSuccess, TxID: txID, Amount: amount, Tel: "0780000000"}}
}

func failed(txID string) gatewayReply {
	return gatewayReply{snap: payment.Snapshot{Status: payment.StatusFailed, TxID: txID, Amount: 500}}
}

func unreachable() gatewayReply {
	return gatewayReply{err: errors.Join(payment.ErrGatewayUnreachable, errors.New("connection refused"))}
}

// memLedger is an in-memory ledger with the same compare-and-swap rule as
// the real drivers.
type memLedger struct {
	mu      sync.Mutex
	tickets map[string]*ticket.Ticket
	routes  map[int64]*ticket.Route
	applied int
	// beforeUpdate runs inside UpdateStatus before the swap.
	beforeUpdate func(ctx context.Context)
}

func newMemLedger(tickets ...*ticket.Ticket) *memLedger {
	l := &memLedger{
		tickets: make(map[string]*ticket.Ticket),
		routes: map[int64]*ticket.Route{
			3: {ID: 3, From: "Kigali", Destination: "Huye", Car: "RAD 123 A", Price: 500, Seats: 30},
		},
	}
	for _, t := range tickets {
		l.tickets[t.TxRef] = t
	}
	return l
}

func pendingTicket(txRef string) *ticket.Ticket {
	return &ticket.Ticket{
		ID:            1,
		ClientID:      2,
		RouteID:       3,
		Amount:        500,
		Date:          time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
		PhoneNumber:   "0788123456",
		TxRef:         txRef,
		PaymentStatus: payment.StatusPending,
	}
}

func (l *memLedger) GetByTxRef(ctx context.Context, txRef string) (*ticket.Ticket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.tickets[txRef]
	if !ok {
		return nil, ticket.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (l *memLedger) UpdateStatus(ctx context.Context, txRef, txID string, status payment.Status) (bool, error) {
	if l.beforeUpdate != nil {
		l.beforeUpdate(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.tickets[txRef]
	if !ok {
		return false, ticket.ErrNotFound
	}
	if !t.PaymentStatus.CanTransitionTo(status) {
		return false, nil
	}
	t.PaymentStatus = status
	t.TxID = txID
	l.applied++
	return true, nil
}

func (l *memLedger) GetRouteDetails(ctx context.Context, routeID int64) (*ticket.Route, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.routes[routeID]
	if !ok {
		return nil, ticket.ErrRouteNotFound
	}
	cp := *r
	return &cp, nil
}

func (l *memLedger) snapshot(t *testing.T, txRef string) ticket.Ticket {
	t.Helper()
	got, err := l.GetByTxRef(context.Background(), txRef)
	if err != nil {
		t.Fatalf("ledger lookup %s: %v", txRef, err)
	}
	return *got
}

func (l *memLedger) Applied() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applied
}

type sentSMS struct {
	phone   string
	message string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentSMS
	err  error
	// ctxErr records ctx.Err() observed at send time.
	ctxErr error
}

func (n *recordingNotifier) Send(ctx context.Context, phone, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.ctxErr = ctx.Err()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentSMS{phone: phone, message: message})
	return nil
}

func (n *recordingNotifier) Sent() []sentSMS {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentSMS(nil), n.sent...)
}

// virtualClock advances time by each requested delay. When block is set,
// After never fires so only ctx can end the wait.
type virtualClock struct {
	mu     sync.Mutex
	now    time.Time
	waits  []time.Duration
	block  bool
	onWait func()
}

func newVirtualClock() *virtualClock {
	return &virtualClock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	hook := c.onWait
	block := c.block
	if !block {
		c.now = c.now.Add(d)
	}
	now := c.now
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	if block {
		return nil
	}
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *virtualClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorkflow(g Gateway, l Ledger, n Notifier, p Policy) (*Workflow, *virtualClock) {
	clock := newVirtualClock()
	wf := NewWorkflow(g, l, n, p, discardLogger())
	wf.now = clock.Now
	wf.after = clock.After
	return wf, clock
}
