// Package ports declares the collaborators the executor talks to, so that the
// real adapters and the test fakes are interchangeable.
package ports

import "time"

// Clock is the time source for the polling loop and keepalives.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for d.
	Sleep(d time.Duration)

	// NewTicker returns a ticker firing every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of time.Ticker used by keepalive loops.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}
