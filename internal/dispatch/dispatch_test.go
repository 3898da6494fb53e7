package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	prov "github.com/3cpo-dev/lifelink/internal/providers"
	"github.com/3cpo-dev/lifelink/pkg/api"
)

func TestNearestPicksMinimumDistance(t *testing.T) {
	fleet := []api.Ambulance{{ID: "a", DistanceKm: 2.1}, {ID: "b", DistanceKm: 0.7}, {ID: "c", DistanceKm: 1.4}}
	assert.Equal(t, 1, Nearest(fleet))
}

func TestNearestTieBreaksOnGenerationOrder(t *testing.T) {
	fleet := []api.Ambulance{{ID: "a", DistanceKm: 1.5}, {ID: "b", DistanceKm: 0.9}, {ID: "c", DistanceKm: 0.9}}
	assert.Equal(t, 1, Nearest(fleet))
}

func TestNearestEmpty(t *testing.T) {
	assert.Equal(t, -1, Nearest(nil))
}

func TestSynthesizeWithinBounds(t *testing.T) {
	opts := OptionsFromConfig(prov.DefaultConfig())
	sim := NewSimulator(opts, 99)
	for round := 0; round < 50; round++ {
		fleet := sim.Synthesize(12.9, 77.6)
		require.Len(t, fleet, opts.Count)
		for i, a := range fleet {
			assert.Equal(t, opts.CallSigns[i], a.CallSign)
			assert.Equal(t, api.AmbulanceAvailable, a.Status)
			assert.InDelta(t, 12.9, a.Location.Lat, opts.JitterDegrees/2)
			assert.InDelta(t, 77.6, a.Location.Lng, opts.JitterDegrees/2)
			assert.GreaterOrEqual(t, a.ETAMin, opts.ETAMin)
			assert.LessOrEqual(t, a.ETAMin, opts.ETAMax)
			assert.GreaterOrEqual(t, a.DistanceKm, opts.DistanceMinKm)
			assert.LessOrEqual(t, a.DistanceKm, opts.DistanceMaxKm)
			assert.Equal(t, []string{"AED", "Oxygen"}, a.Equipment)
		}
	}
}

func TestDispatchMarksExactlyOneNearest(t *testing.T) {
	sim := NewSimulator(Options{Count: 6, DistanceMinKm: 0.5, DistanceMaxKm: 3.5, ETAMin: 3, ETAMax: 12}, 7)
	fleet, idx := sim.Dispatch(1, 2)
	require.GreaterOrEqual(t, idx, 0)

	dispatched := 0
	for i, a := range fleet {
		if a.Status == api.AmbulanceDispatched {
			dispatched++
			assert.Equal(t, idx, i)
		}
		assert.GreaterOrEqual(t, a.DistanceKm, fleet[idx].DistanceKm)
	}
	assert.Equal(t, 1, dispatched)
	assert.Equal(t, "AMB-106", fleet[5].CallSign)
}

func TestSynthesizeDoesNotShareEquipment(t *testing.T) {
	sim := NewSimulator(Options{Count: 2, Equipment: []string{"AED"}}, 1)
	fleet := sim.Synthesize(0, 0)
	fleet[0].Equipment[0] = "changed"
	assert.Equal(t, "AED", fleet[1].Equipment[0])
}
