package ports

import "time"

type Clock interface {
	Now() time.Time
}

// TickerClock also hands out periodic tickers. The returned func stops the
// ticker.
type TickerClock interface {
	Clock
	NewTicker(d time.Duration) (<-chan time.Time, func())
}

type SystemClock struct{}

var _ TickerClock = SystemClock{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

func (SystemClock) NewTicker(d time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(d)
	return ticker.C, ticker.Stop
}
