package core

import (
	"sync"
	"time"
)

// Ticker is the clock behind the arming countdown.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc builds the Ticker for one arming countdown.
type TickerFunc func(d time.Duration) Ticker

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// NewStdTicker is the TickerFunc backed by time.Ticker.
func NewStdTicker(d time.Duration) Ticker { return stdTicker{t: time.NewTicker(d)} }

// armTimer is the cancellable countdown owned by the Arming phase.
type armTimer struct {
	once sync.Once
	stop chan struct{}
}

func newArmTimer() *armTimer {
	return &armTimer{stop: make(chan struct{})}
}

// Stop halts the countdown. It does not wait for the goroutine, which may be
// blocked on the orchestrator lock held by the caller.
func (t *armTimer) Stop() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.stop) })
}

// runArming feeds ticks into the orchestrator until the hold is released,
// cancelled, or the threshold is reached.
func (o *Orchestrator) runArming(gen uint64, tk Ticker, t *armTimer) {
	defer tk.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-tk.C():
			if !o.tick(gen) {
				return
			}
		}
	}
}
