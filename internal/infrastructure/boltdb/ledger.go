// Package boltdb provides an embedded ticket ledger on BoltDB.
//
// All data lives in a single file, so the service can run without a
// postgres server. Bolt allows one writer at a time, which makes the
// pending to terminal compare-and-swap in UpdateStatus atomic.
package boltdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/hdevtech/ticket/internal/domain/payment"
	"github.com/hdevtech/ticket/internal/domain/ticket"
)

var (
	ticketsBucket = []byte("tickets")
	routesBucket  = []byte("routes")
)

// Ledger stores tickets keyed by tx_ref and routes keyed by route_id.
type Ledger struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens (or creates) the ledger file at path.
func Open(path string) (*Ledger, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt ledger: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{ticketsBucket, routesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bolt buckets: %w", err)
	}

	return &Ledger{db: db, now: time.Now}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Create stores a new pending ticket and assigns its ticket_id.
func (l *Ledger) Create(ctx context.Context, t *ticket.Ticket) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ticketsBucket)
		if b.Get([]byte(t.TxRef)) != nil {
			return fmt.Errorf("%w: %s", ticket.ErrDuplicateTxRef, t.TxRef)
		}

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("next ticket id: %w", err)
		}

		now := l.now().UTC()
		stored := *t
		stored.ID = int64(seq)
		stored.PaymentStatus = payment.StatusPending
		stored.TxID = ""
		if stored.Date.IsZero() {
			stored.Date = now
		}
		stored.UpdatedAt = now

		if err := putJSON(b, []byte(stored.TxRef), &stored); err != nil {
			return err
		}
		*t = stored
		return nil
	})
}

func (l *Ledger) GetByTxRef(ctx context.Context, txRef string) (*ticket.Ticket, error) {
	var t ticket.Ticket
	err := l.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(ticketsBucket).Get([]byte(txRef))
		if v == nil {
			return ticket.ErrNotFound
		}
		return json.Unmarshal(v, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateStatus moves a pending ticket to status. It reports false when the
// ticket is already terminal or absent.
func (l *Ledger) UpdateStatus(ctx context.Context, txRef, txID string, status payment.Status) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("update ticket status: %w: %q is not terminal", payment.ErrUnknownStatus, status)
	}

	applied := false
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ticketsBucket)
		v := b.Get([]byte(txRef))
		if v == nil {
			return nil
		}

		var t ticket.Ticket
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		if !t.PaymentStatus.CanTransitionTo(status) {
			return nil
		}

		t.PaymentStatus = status
		t.TxID = txID
		t.UpdatedAt = l.now().UTC()
		applied = true
		return putJSON(b, []byte(txRef), &t)
	})
	if err != nil {
		return false, fmt.Errorf("update ticket status: %w", err)
	}
	return applied, nil
}

func (l *Ledger) GetRouteDetails(ctx context.Context, routeID int64) (*ticket.Route, error) {
	var r ticket.Route
	err := l.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(routesBucket).Get(itob(routeID))
		if v == nil {
			return ticket.ErrRouteNotFound
		}
		return json.Unmarshal(v, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// PutRoute stores r, assigning a route_id when it has none.
func (l *Ledger) PutRoute(ctx context.Context, r *ticket.Route) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(routesBucket)
		if r.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return fmt.Errorf("next route id: %w", err)
			}
			r.ID = int64(seq)
		}
		return putJSON(b, itob(r.ID), r)
	})
}

// ListPending returns pending tickets created before olderThan, oldest first.
func (l *Ledger) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*ticket.Ticket, error) {
	var tickets []*ticket.Ticket
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(ticketsBucket).ForEach(func(k, v []byte) error {
			var t ticket.Ticket
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("decode ticket %s: %w", k, err)
			}
			if t.PaymentStatus == payment.StatusPending && t.Date.Before(olderThan) {
				tickets = append(tickets, &t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tickets, func(i, j int) bool {
		return tickets[i].Date.Before(tickets[j].Date)
	})
	if limit > 0 && len(tickets) > limit {
		tickets = tickets[:limit]
	}
	return tickets, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if old := b.Get(key); old != nil && bytes.Equal(old, data) {
		return nil
	}
	return b.Put(key, data)
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}
