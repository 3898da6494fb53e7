package position

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/3cpo-dev/lifelink/pkg/api"
)

type SimulatedOptions struct {
	Base        api.Coordinates
	Accuracy    float64
	Interval    time.Duration
	DriftMeters float64
	// FixDelay is how long a one-shot fix takes to settle.
	FixDelay time.Duration
	// Disabled simulates a device without location capability.
	Disabled bool
	Seed     int64
}

// Simulated is a random-walk receiver around a base coordinate.
type Simulated struct {
	opts SimulatedOptions

	mu   sync.Mutex
	rng  *rand.Rand
	cur  api.Coordinates
	last time.Time
}

const metersPerDegree = 111320.0

func NewSimulated(opts SimulatedOptions) *Simulated {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulated{opts: opts, rng: rand.New(rand.NewSource(seed)), cur: opts.Base}
}

func (s *Simulated) AcquireOnce(ctx context.Context) (api.PositionReading, error) {
	if s.opts.Disabled {
		return api.PositionReading{}, unavailable("geolocation not supported")
	}
	if s.opts.FixDelay > 0 {
		t := time.NewTimer(s.opts.FixDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return api.PositionReading{}, unavailable("no fix: %v", ctx.Err())
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return api.PositionReading{}, unavailable("no fix: %v", err)
	}
	return s.next(), nil
}

func (s *Simulated) Subscribe(ctx context.Context, onReading func(api.PositionReading)) (*Subscription, error) {
	if s.opts.Disabled {
		return nil, unavailable("geolocation not supported")
	}
	return Start(ctx, func(ctx context.Context) {
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r := s.next()
				if ctx.Err() != nil {
					return
				}
				onReading(r)
			}
		}
	}), nil
}

// next advances the walk by at most DriftMeters in each axis.
func (s *Simulated) next() api.PositionReading {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	prev := s.cur
	if s.opts.DriftMeters > 0 {
		dLat := (2*s.rng.Float64() - 1) * s.opts.DriftMeters / metersPerDegree
		cos := math.Cos(prev.Lat * math.Pi / 180)
		if cos < 0.01 {
			cos = 0.01
		}
		dLng := (2*s.rng.Float64() - 1) * s.opts.DriftMeters / (metersPerDegree * cos)
		s.cur = api.Coordinates{Lat: prev.Lat + dLat, Lng: prev.Lng + dLng}
	}

	r := api.PositionReading{
		Latitude:  s.cur.Lat,
		Longitude: s.cur.Lng,
		Accuracy:  s.opts.Accuracy,
		Timestamp: now,
	}
	if !s.last.IsZero() {
		dy := (s.cur.Lat - prev.Lat) * metersPerDegree
		dx := (s.cur.Lng - prev.Lng) * metersPerDegree * math.Cos(prev.Lat*math.Pi/180)
		if secs := now.Sub(s.last).Seconds(); secs > 0 {
			speed := math.Hypot(dx, dy) / secs
			r.Speed = &speed
		}
		heading := math.Mod(math.Atan2(dx, dy)*180/math.Pi+360, 360)
		r.Heading = &heading
	}
	s.last = now
	return r
}
