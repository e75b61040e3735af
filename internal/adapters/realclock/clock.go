// Package realclock backs ports.Clock with the time package.
package realclock

import (
	"time"

	"github.com/acolita/ptyexec/internal/ports"
)

// Clock is the wall clock.
type Clock struct{}

// New returns the wall clock.
func New() *Clock {
	return &Clock{}
}

func (Clock) Now() time.Time {
	return time.Now()
}

func (Clock) Sleep(d time.Duration) {
	time.Sleep(d)
}

func (Clock) NewTicker(d time.Duration) ports.Ticker {
	return ticker{t: time.NewTicker(d)}
}

type ticker struct {
	t *time.Ticker
}

func (t ticker) C() <-chan time.Time { return t.t.C }
func (t ticker) Stop()               { t.t.Stop() }

var _ ports.Clock = (*Clock)(nil)
