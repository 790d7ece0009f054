package session

import "time"

// Backoff yields retry delays that double from Base up to Max. With Base
// equal to Max the delay is fixed.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	attempt int
}

func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{Base: base, Max: max}
}

func (b *Backoff) Next() time.Duration {
	d := b.Base << b.attempt
	if d > b.Max || d <= 0 {
		d = b.Max
	}
	if d < b.Max {
		b.attempt++
	}
	return d
}
