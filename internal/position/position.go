// Package position provides live-location sources: one-shot fixes and
// continuous subscriptions with explicit, idempotent cancellation.
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	prov "github.com/3cpo-dev/lifelink/internal/providers"
	"github.com/3cpo-dev/lifelink/pkg/api"
)

// Source produces position readings. AcquireOnce fails with an error wrapping
// api.ErrLocationUnavailable. Subscribe delivers readings sequentially on a
// single goroutine until the returned subscription is cancelled.
type Source interface {
	AcquireOnce(ctx context.Context) (api.PositionReading, error)
	Subscribe(ctx context.Context, onReading func(api.PositionReading)) (*Subscription, error)
}

// Subscription is a handle on a running reading stream. Cancel is safe to call
// any number of times and returns once no further callback can run. It must
// not be called from inside the reading callback.
type Subscription struct {
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

// Start runs loop on its own goroutine and returns the handle that stops it.
func Start(ctx context.Context, loop func(ctx context.Context)) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		loop(ctx)
	}()
	return s
}

func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Done is closed when the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// NewFromConfig builds the configured source.
func NewFromConfig(cfg prov.Config) (Source, error) {
	switch cfg.Position.Provider {
	case "", "simulated":
		return NewSimulated(SimulatedOptions{
			Base:        api.Coordinates{Lat: cfg.Position.Latitude, Lng: cfg.Position.Longitude},
			Accuracy:    cfg.Position.Accuracy,
			Interval:    time.Duration(cfg.Position.IntervalMillis) * time.Millisecond,
			DriftMeters: cfg.Position.DriftMeters,
			Disabled:    cfg.Position.Disabled,
		}), nil
	case "replay":
		track, err := LoadTrack(cfg.Position.ReplayFile)
		if err != nil {
			return nil, err
		}
		return NewReplay(track, time.Duration(cfg.Position.IntervalMillis)*time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unknown position provider: %s", cfg.Position.Provider)
	}
}

func unavailable(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", api.ErrLocationUnavailable, fmt.Sprintf(format, args...))
}
