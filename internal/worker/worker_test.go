package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hdevtech/ticket/internal/domain/event"
	"github.com/hdevtech/ticket/internal/domain/outbox"
	"github.com/hdevtech/ticket/internal/domain/ticket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memOutbox struct {
	batch     []*outbox.Event
	processed []string
	failed    []string
}

func (m *memOutbox) Create(ctx context.Context, e *outbox.Event) error {
	m.batch = append(m.batch, e)
	return nil
}

func (m *memOutbox) FetchBatch(ctx context.Context, limit int) ([]*outbox.Event, error) {
	if len(m.batch) > limit {
		out := m.batch[:limit]
		m.batch = m.batch[limit:]
		return out, nil
	}
	out := m.batch
	m.batch = nil
	return out, nil
}

func (m *memOutbox) MarkProcessed(ctx context.Context, ids []string) error {
	m.processed = append(m.processed, ids...)
	return nil
}

func (m *memOutbox) MarkFailed(ctx context.Context, ids []string) error {
	m.failed = append(m.failed, ids...)
	return nil
}

type memPublisher struct {
	sent   []event.Message
	failOn string
}

func (p *memPublisher) Publish(ctx context.Context, msg event.Message) error {
	if msg.CorrelationID == p.failOn {
		return errors.New("broker down")
	}
	p.sent = append(p.sent, msg)
	return nil
}

func newEvent(t *testing.T, txRef string) *outbox.Event {
	t.Helper()
	e, err := outbox.NewEvent(outbox.TypeTicketPurchased, txRef, "", outbox.TicketPurchased{TxRef: txRef}, time.Now())
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	return e
}

func TestProcessBatch(t *testing.T) {
	repo := &memOutbox{}
	ok := newEvent(t, "abc123")
	bad := newEvent(t, "def456")
	repo.Create(context.Background(), ok)
	repo.Create(context.Background(), bad)

	pub := &memPublisher{failOn: "def456"}
	p := NewOutboxPoller(repo, pub, time.Second, discardLogger())

	n, err := p.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if n != 1 {
		t.Errorf("published = %d, want 1", n)
	}
	if len(pub.sent) != 1 || pub.sent[0].ID != ok.ID || string(pub.sent[0].Key()) != "abc123" {
		t.Errorf("sent = %+v", pub.sent)
	}
	if len(repo.processed) != 1 || repo.processed[0] != ok.ID {
		t.Errorf("processed = %v", repo.processed)
	}
	if len(repo.failed) != 1 || repo.failed[0] != bad.ID {
		t.Errorf("failed = %v", repo.failed)
	}
}

func TestProcessBatchEmpty(t *testing.T) {
	p := NewOutboxPoller(&memOutbox{}, &memPublisher{}, 0, discardLogger())
	if n, err := p.ProcessBatch(context.Background()); n != 0 || err != nil {
		t.Fatalf("ProcessBatch = %d, %v", n, err)
	}
}

type memPending struct {
	tickets   []*ticket.Ticket
	olderThan time.Time
}

func (m *memPending) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*ticket.Ticket, error) {
	m.olderThan = olderThan
	return m.tickets, nil
}

type memStarter struct {
	mu      sync.Mutex
	running map[string]bool
}

func (s *memStarter) Start(txRef string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[txRef] {
		return false
	}
	s.running[txRef] = true
	return true
}

func TestSweep(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	pending := &memPending{tickets: []*ticket.Ticket{{TxRef: "abc123"}, {TxRef: "def456"}}}
	starter := &memStarter{running: map[string]bool{"def456": true}}

	s := NewPendingSweeper(pending, starter, time.Minute, 2*time.Minute, discardLogger())
	s.now = func() time.Time { return now }

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("started = %d, want 1", n)
	}
	if !pending.olderThan.Equal(now.Add(-2 * time.Minute)) {
		t.Errorf("olderThan = %v", pending.olderThan)
	}
	if !starter.running["abc123"] {
		t.Error("abc123 was not started")
	}
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewPendingSweeper(&memPending{}, &memStarter{running: map[string]bool{}}, time.Hour, 0, discardLogger())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
