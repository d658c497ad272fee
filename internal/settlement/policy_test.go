package settlement

import (
	"testing"
	"time"
)

func TestPolicyDelay(t *testing.T) {
	p := Policy{Interval: 5 * time.Second, MaxBackoff: 30 * time.Second}

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.failures); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestPolicyDelayDefaults(t *testing.T) {
	var p Policy
	if got := p.Delay(0); got != DefaultInterval {
		t.Errorf("zero policy delay = %v, want %v", got, DefaultInterval)
	}
	// no MaxBackoff means no growth
	if got := p.Delay(3); got != DefaultInterval {
		t.Errorf("zero policy backoff = %v, want %v", got, DefaultInterval)
	}
}

func TestPolicyExhausted(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		attempts int
		nextAt   time.Duration
		want     bool
	}{
		{"unbounded", Policy{}, 1000, 24 * time.Hour, false},
		{"below max attempts", Policy{MaxAttempts: 3}, 2, 0, false},
		{"at max attempts", Policy{MaxAttempts: 3}, 3, 0, true},
		{"next poll inside window", Policy{MaxDuration: time.Minute}, 5, 55 * time.Second, false},
		{"next poll past window", Policy{MaxDuration: time.Minute}, 5, 61 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Exhausted(tt.attempts, tt.nextAt); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
