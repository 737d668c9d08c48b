package recovery

import (
	"math"
	"time"
)

// Backoff computes retry waits that grow by 2^Factor per consecutive failure
// until they reach Cap.
type Backoff struct {
	Initial time.Duration `yaml:"initial"`
	Factor  float64       `yaml:"factor"`
	Cap     time.Duration `yaml:"cap"`
}

// DefaultBackoff returns 0.1s, 0.4s, 1.6s, 6.4s, then 10s forever.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: 100 * time.Millisecond,
		Factor:  2,
		Cap:     10 * time.Second,
	}
}

// State is the retry progress of one failure streak.
type State struct {
	Failures int
	Wait     time.Duration
}

// Reset returns the state after a success.
func (b Backoff) Reset() State {
	return State{}
}

// Next returns the state after one more failure. Wait is how long to sleep
// before retrying.
func (b Backoff) Next(s State) State {
	var wait time.Duration
	if s.Failures == 0 {
		wait = b.Initial
	} else {
		wait = b.grow(s.Wait)
	}
	return State{Failures: s.Failures + 1, Wait: min(wait, b.Cap)}
}

// delay returns the wait after the given 0-indexed consecutive failure:
// Initial * 2^(Factor*attempt), capped.
func (b Backoff) delay(attempt int) time.Duration {
	s := b.Reset()
	for range attempt + 1 {
		s = b.Next(s)
		if s.Wait >= b.Cap {
			break
		}
	}
	return s.Wait
}

func (b Backoff) grow(d time.Duration) time.Duration {
	next := float64(d) * math.Pow(2, b.Factor)
	if next >= float64(b.Cap) {
		return b.Cap
	}
	return time.Duration(next)
}
