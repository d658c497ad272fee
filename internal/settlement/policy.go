package settlement

import "time"

const DefaultInterval = 5 * time.Second

// Policy bounds the poll loop. Zero MaxAttempts or MaxDuration means that
// bound is not enforced; at least one should be set in production.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
	MaxDuration time.Duration
	// MaxBackoff caps the delay after consecutive GatewayUnreachable errors.
	MaxBackoff time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Interval:    DefaultInterval,
		MaxDuration: 15 * time.Minute,
		MaxBackoff:  time.Minute,
	}
}

func (p Policy) interval() time.Duration {
	if p.Interval <= 0 {
		return DefaultInterval
	}
	return p.Interval
}

// Delay returns the wait before the next poll. After n consecutive transport
// failures the interval doubles n times, up to MaxBackoff.
func (p Policy) Delay(failures int) time.Duration {
	d := p.interval()
	if failures <= 0 {
		return d
	}

	limit := p.MaxBackoff
	if limit < d {
		limit = d
	}
	for i := 0; i < failures && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		d = limit
	}
	return d
}

// Exhausted reports whether another poll is allowed after attempts polls,
// when that poll would run at nextAt since the settlement started.
func (p Policy) Exhausted(attempts int, nextAt time.Duration) bool {
	if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
		return true
	}
	if p.MaxDuration > 0 && nextAt > p.MaxDuration {
		return true
	}
	return false
}
