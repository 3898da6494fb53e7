package position

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/3cpo-dev/lifelink/pkg/api"
)

// Track is a recorded path replayed by Replay.
type Track struct {
	Name   string       `yaml:"name"`
	Points []TrackPoint `yaml:"points"`
}

type TrackPoint struct {
	Latitude  float64  `yaml:"latitude"`
	Longitude float64  `yaml:"longitude"`
	Accuracy  float64  `yaml:"accuracy"`
	Speed     *float64 `yaml:"speed"`
	Heading   *float64 `yaml:"heading"`
}

// LoadTrack reads a YAML track file.
func LoadTrack(path string) (Track, error) {
	var t Track
	if path == "" {
		return t, fmt.Errorf("replay file not configured")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read track: %w", err)
	}
	if err := yaml.Unmarshal(content, &t); err != nil {
		return t, fmt.Errorf("parse track: %w", err)
	}
	if len(t.Points) == 0 {
		return t, fmt.Errorf("track %q has no points", t.Name)
	}
	return t, nil
}

// Replay walks a track one point per interval and then holds the last point.
type Replay struct {
	track    Track
	interval time.Duration

	mu  sync.Mutex
	idx int
}

func NewReplay(track Track, interval time.Duration) *Replay {
	if interval <= 0 {
		interval = time.Second
	}
	return &Replay{track: track, interval: interval}
}

func (r *Replay) AcquireOnce(ctx context.Context) (api.PositionReading, error) {
	if err := ctx.Err(); err != nil {
		return api.PositionReading{}, unavailable("no fix: %v", err)
	}
	if len(r.track.Points) == 0 {
		return api.PositionReading{}, unavailable("empty track")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reading(r.idx), nil
}

func (r *Replay) Subscribe(ctx context.Context, onReading func(api.PositionReading)) (*Subscription, error) {
	if len(r.track.Points) == 0 {
		return nil, unavailable("empty track")
	}
	return Start(ctx, func(ctx context.Context) {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reading := r.advance()
				if ctx.Err() != nil {
					return
				}
				onReading(reading)
			}
		}
	}), nil
}

func (r *Replay) advance() api.PositionReading {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.idx < len(r.track.Points)-1 {
		r.idx++
	}
	return r.reading(r.idx)
}

func (r *Replay) reading(i int) api.PositionReading {
	p := r.track.Points[i]
	return api.PositionReading{
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Accuracy:  p.Accuracy,
		Speed:     p.Speed,
		Heading:   p.Heading,
		Timestamp: time.Now(),
	}
}
