package position

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	prov "github.com/3cpo-dev/lifelink/internal/providers"
	"github.com/3cpo-dev/lifelink/pkg/api"
)

func TestSimulatedAcquireNearBase(t *testing.T) {
	src := NewSimulated(SimulatedOptions{Base: api.Coordinates{Lat: 12.9, Lng: 77.6}, Accuracy: 7, DriftMeters: 10, Seed: 42})
	r, err := src.AcquireOnce(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 12.9, r.Latitude, 0.001)
	assert.InDelta(t, 77.6, r.Longitude, 0.001)
	assert.Equal(t, 7.0, r.Accuracy)
	assert.False(t, r.Timestamp.IsZero())
}

func TestSimulatedDisabled(t *testing.T) {
	src := NewSimulated(SimulatedOptions{Disabled: true})
	_, err := src.AcquireOnce(context.Background())
	assert.ErrorIs(t, err, api.ErrLocationUnavailable)

	sub, err := src.Subscribe(context.Background(), func(api.PositionReading) {})
	assert.Nil(t, sub)
	assert.ErrorIs(t, err, api.ErrLocationUnavailable)
}

func TestSimulatedAcquireTimeout(t *testing.T) {
	src := NewSimulated(SimulatedOptions{FixDelay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := src.AcquireOnce(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrLocationUnavailable))
}

func TestSubscriptionCancelIsIdempotent(t *testing.T) {
	src := NewSimulated(SimulatedOptions{Base: api.Coordinates{Lat: 1, Lng: 1}, Interval: 5 * time.Millisecond, DriftMeters: 3})
	var n int32
	sub, err := src.Subscribe(context.Background(), func(r api.PositionReading) {
		atomic.AddInt32(&n, 1)
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&n) >= 2 }, time.Second, 5*time.Millisecond)

	sub.Cancel()
	sub.Cancel()
	select {
	case <-sub.Done():
	default:
		t.Fatal("delivery goroutine still running after Cancel")
	}
	after := atomic.LoadInt32(&n)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&n), "reading delivered after cancel")
}

func TestSimulatedReportsSpeedAndHeading(t *testing.T) {
	src := NewSimulated(SimulatedOptions{Base: api.Coordinates{Lat: 10, Lng: 10}, DriftMeters: 20, Seed: 7})
	first := src.next()
	assert.Nil(t, first.Speed)
	time.Sleep(2 * time.Millisecond)
	second := src.next()
	require.NotNil(t, second.Heading)
	assert.True(t, *second.Heading >= 0 && *second.Heading < 360)
	require.NotNil(t, second.Speed)
	assert.False(t, math.IsNaN(*second.Speed))
}

func TestReplayFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.yaml")
	content := `name: commute
points:
  - latitude: 12.90
    longitude: 77.60
    accuracy: 5
  - latitude: 12.91
    longitude: 77.61
    accuracy: 6
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := prov.DefaultConfig()
	cfg.Position.Provider = "replay"
	cfg.Position.ReplayFile = path
	cfg.Position.IntervalMillis = 5
	src, err := NewFromConfig(cfg)
	require.NoError(t, err)

	first, err := src.AcquireOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12.90, first.Latitude)

	got := make(chan api.PositionReading, 16)
	sub, err := src.Subscribe(context.Background(), func(r api.PositionReading) {
		select {
		case got <- r:
		default:
		}
	})
	require.NoError(t, err)
	defer sub.Cancel()

	select {
	case r := <-got:
		assert.Equal(t, 12.91, r.Latitude)
		assert.Equal(t, 6.0, r.Accuracy)
	case <-time.After(time.Second):
		t.Fatal("no replayed reading")
	}
}

func TestLoadTrackErrors(t *testing.T) {
	_, err := LoadTrack("")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: empty\n"), 0644))
	_, err = LoadTrack(path)
	assert.Error(t, err)
}

func TestNewFromConfigUnknownProvider(t *testing.T) {
	cfg := prov.DefaultConfig()
	cfg.Position.Provider = "gpsd"
	_, err := NewFromConfig(cfg)
	assert.Error(t, err)
}
