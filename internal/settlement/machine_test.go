package settlement

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/hdevtech/ticket/internal/domain/payment"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name    string
		current payment.Status
		snap    payment.Status
		want    Decision
		wantErr bool
	}{
		{
			name:    "pending stays pending and polls again",
			current: payment.StatusPending,
			snap:    payment.StatusPending,
			want:    Decision{Next: payment.StatusPending, Effects: []Effect{EffectSchedulePoll}},
		},
		{
			name:    "pending to success writes then notifies",
			current: payment.StatusPending,
			snap:    payment.StatusSuccess,
			want:    Decision{Next: payment.StatusSuccess, Effects: []Effect{EffectWriteLedger, EffectNotify}},
		},
		{
			name:    "pending to failed writes without notifying",
			current: payment.StatusPending,
			snap:    payment.StatusFailed,
			want:    Decision{Next: payment.StatusFailed, Effects: []Effect{EffectWriteLedger}},
		},
		{
			name:    "success is absorbing against failed",
			current: payment.StatusSuccess,
			snap:    payment.StatusFailed,
			want:    Decision{Next: payment.StatusSuccess},
		},
		{
			name:    "success is absorbing against pending",
			current: payment.StatusSuccess,
			snap:    payment.StatusPending,
			want:    Decision{Next: payment.StatusSuccess},
		},
		{
			name:    "failed is absorbing against success",
			current: payment.StatusFailed,
			snap:    payment.StatusSuccess,
			want:    Decision{Next: payment.StatusFailed},
		},
		{
			name:    "unknown gateway status",
			current: payment.StatusPending,
			snap:    payment.Status("refunded"),
			wantErr: true,
		},
		{
			name:    "unknown ledger status",
			current: payment.Status(""),
			snap:    payment.StatusSuccess,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition(tt.current, payment.Snapshot{Status: tt.snap})
			if tt.wantErr {
				if !errors.Is(err, payment.ErrUnknownStatus) {
					t.Fatalf("expected ErrUnknownStatus, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTransitionNeverLeavesTerminal(t *testing.T) {
	all := []payment.Status{payment.StatusPending, payment.StatusSuccess, payment.StatusFailed}

	for _, current := range []payment.Status{payment.StatusSuccess, payment.StatusFailed} {
		for _, snap := range all {
			d, err := Transition(current, payment.Snapshot{Status: snap})
			if err != nil {
				t.Fatalf("%s/%s: %v", current, snap, err)
			}
			if d.Next != current || len(d.Effects) != 0 {
				t.Errorf("%s/%s: expected no-op, got %+v", current, snap, d)
			}
		}
	}
}

func TestNotificationMessage(t *testing.T) {
	msg := NotificationMessage("TXN1", "abc123", 500)
	for _, want := range []string{"TXN1", "abc123", "500"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestEffectString(t *testing.T) {
	if EffectNotify.String() != "notify" {
		t.Errorf("got %q", EffectNotify.String())
	}
	if Effect(42).String() != "effect(42)" {
		t.Errorf("got %q", Effect(42).String())
	}
}
