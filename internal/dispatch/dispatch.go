// Package dispatch synthesizes candidate ambulances around an incident and
// picks the one to dispatch.
package dispatch

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	prov "github.com/3cpo-dev/lifelink/internal/providers"
	"github.com/3cpo-dev/lifelink/pkg/api"
)

// Options are the synthesis parameters. They are configuration, not invariants.
type Options struct {
	Count         int
	JitterDegrees float64
	ETAMin        int
	ETAMax        int
	DistanceMinKm float64
	DistanceMaxKm float64
	Crew          int
	Equipment     []string
	CallSigns     []string
}

func OptionsFromConfig(cfg prov.Config) Options {
	d := cfg.Dispatch
	return Options{
		Count:         d.Count,
		JitterDegrees: d.JitterDegrees,
		ETAMin:        d.ETAMinMinutes,
		ETAMax:        d.ETAMaxMinutes,
		DistanceMinKm: d.DistanceMinKm,
		DistanceMaxKm: d.DistanceMaxKm,
		Crew:          d.Crew,
		Equipment:     d.Equipment,
		CallSigns:     d.CallSigns,
	}
}

// Simulator is safe for concurrent use.
type Simulator struct {
	opts Options

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulator(opts Options, seed int64) *Simulator {
	if opts.Count <= 0 {
		opts.Count = 3
	}
	if opts.ETAMax < opts.ETAMin {
		opts.ETAMax = opts.ETAMin
	}
	if opts.DistanceMaxKm < opts.DistanceMinKm {
		opts.DistanceMaxKm = opts.DistanceMinKm
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{opts: opts, rng: rand.New(rand.NewSource(seed))}
}

// Synthesize returns Count available candidates in generation order.
func (s *Simulator) Synthesize(lat, lng float64) []api.Ambulance {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]api.Ambulance, 0, s.opts.Count)
	for i := 0; i < s.opts.Count; i++ {
		callSign := fmt.Sprintf("AMB-%d", 101+i)
		if i < len(s.opts.CallSigns) {
			callSign = s.opts.CallSigns[i]
		}
		equipment := make([]string, len(s.opts.Equipment))
		copy(equipment, s.opts.Equipment)
		dist := s.opts.DistanceMinKm + s.rng.Float64()*(s.opts.DistanceMaxKm-s.opts.DistanceMinKm)
		out = append(out, api.Ambulance{
			ID:       fmt.Sprintf("amb-%d", i),
			CallSign: callSign,
			Location: api.Coordinates{
				Lat: lat + (s.rng.Float64()-0.5)*s.opts.JitterDegrees,
				Lng: lng + (s.rng.Float64()-0.5)*s.opts.JitterDegrees,
			},
			Status:     api.AmbulanceAvailable,
			ETAMin:     s.opts.ETAMin + s.rng.Intn(s.opts.ETAMax-s.opts.ETAMin+1),
			DistanceKm: math.Round(dist*100) / 100,
			Crew:       s.opts.Crew,
			Equipment:  equipment,
		})
	}
	return out
}

// Dispatch synthesizes a fleet and marks the nearest candidate dispatched.
// The returned index points into the returned fleet.
func (s *Simulator) Dispatch(lat, lng float64) ([]api.Ambulance, int) {
	fleet := s.Synthesize(lat, lng)
	i := Nearest(fleet)
	if i >= 0 {
		fleet[i].Status = api.AmbulanceDispatched
	}
	return fleet, i
}

// Nearest returns the index of the minimal-distance candidate, the earliest on
// ties, or -1 for an empty fleet.
func Nearest(fleet []api.Ambulance) int {
	best := -1
	for i := range fleet {
		if best < 0 || fleet[i].DistanceKm < fleet[best].DistanceKm {
			best = i
		}
	}
	return best
}
