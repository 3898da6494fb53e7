package core

import (
	"errors"

	"github.com/3cpo-dev/lifelink/pkg/api"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseArming     Phase = "arming"
	PhaseActivating Phase = "activating"
	PhaseActive     Phase = "active"
)

// ArmThreshold is the progress value that triggers activation.
const ArmThreshold = 100

// ErrUnknownHospital is returned when selecting a hospital outside the current set.
var ErrUnknownHospital = errors.New("hospital not in current result set")

// IncidentState is the aggregate owned by the Orchestrator. Callers only ever
// see clones.
type IncidentState struct {
	IncidentID          string               `json:"incidentId,omitempty"`
	Phase               Phase                `json:"phase"`
	ArmProgress         int                  `json:"armProgress"`
	CurrentPosition     *api.PositionReading `json:"currentPosition,omitempty"`
	Hospitals           []api.Hospital       `json:"hospitals"`
	SelectedHospital    *api.Hospital        `json:"selectedHospital,omitempty"`
	Ambulances          []api.Ambulance      `json:"ambulances"`
	DispatchedAmbulance *api.Ambulance       `json:"dispatchedAmbulance,omitempty"`
	DataSource          string               `json:"dataSource,omitempty"`
	LastError           *api.IncidentError   `json:"lastError,omitempty"`
}

func idleState() IncidentState {
	return IncidentState{Phase: PhaseIdle, Hospitals: []api.Hospital{}, Ambulances: []api.Ambulance{}}
}

// Clone returns a deep copy.
func (s IncidentState) Clone() IncidentState {
	out := s
	if s.CurrentPosition != nil {
		p := *s.CurrentPosition
		out.CurrentPosition = &p
	}
	out.Hospitals = append([]api.Hospital{}, s.Hospitals...)
	if s.SelectedHospital != nil {
		h := *s.SelectedHospital
		out.SelectedHospital = &h
	}
	out.Ambulances = make([]api.Ambulance, len(s.Ambulances))
	for i, a := range s.Ambulances {
		out.Ambulances[i] = a.Clone()
	}
	if s.DispatchedAmbulance != nil {
		a := s.DispatchedAmbulance.Clone()
		out.DispatchedAmbulance = &a
	}
	if s.LastError != nil {
		e := *s.LastError
		out.LastError = &e
	}
	return out
}

// events accepted by reduce
type event interface{ eventName() string }

type holdStarted struct{}
type armTicked struct{ step int }
type holdReleased struct{}
type activationFailed struct{ err api.IncidentError }
type activationSucceeded struct{ res activationResult }
type positionUpdated struct{ reading api.PositionReading }
type hospitalSelected struct{ id string }
type cancelled struct{}

func (holdStarted) eventName() string         { return "hold_started" }
func (armTicked) eventName() string           { return "arm_ticked" }
func (holdReleased) eventName() string        { return "hold_released" }
func (activationFailed) eventName() string    { return "activation_failed" }
func (activationSucceeded) eventName() string { return "activation_succeeded" }
func (positionUpdated) eventName() string     { return "position_updated" }
func (hospitalSelected) eventName() string    { return "hospital_selected" }
func (cancelled) eventName() string           { return "cancelled" }

// effect flags tell the Orchestrator which resources to start or stop.
type effect uint8

const (
	effChanged effect = 1 << iota
	effStartArming
	effStopArming
	effActivate
	effStartTracking
	effTeardown
)

func (e effect) has(f effect) bool { return e&f != 0 }

// reduce is the transition table. It is pure: resources are handled by the
// caller according to the returned effects.
func reduce(s IncidentState, ev event) (IncidentState, effect, error) {
	switch ev := ev.(type) {
	case holdStarted:
		if s.Phase != PhaseIdle {
			return s, 0, nil
		}
		next := idleState()
		next.Phase = PhaseArming
		return next, effChanged | effStartArming, nil

	case armTicked:
		if s.Phase != PhaseArming {
			return s, 0, nil
		}
		s.ArmProgress += ev.step
		if s.ArmProgress < ArmThreshold {
			return s, effChanged, nil
		}
		s.ArmProgress = ArmThreshold
		s.Phase = PhaseActivating
		return s, effChanged | effStopArming | effActivate, nil

	case holdReleased:
		if s.Phase == PhaseArming {
			return idleState(), effChanged | effStopArming, nil
		}
		if s.ArmProgress == 0 {
			return s, 0, nil
		}
		s.ArmProgress = 0
		return s, effChanged, nil

	case activationFailed:
		if s.Phase != PhaseActivating {
			return s, 0, nil
		}
		next := idleState()
		e := ev.err
		next.LastError = &e
		return next, effChanged | effTeardown, nil

	case activationSucceeded:
		if s.Phase != PhaseActivating {
			return s, 0, nil
		}
		r := ev.res
		next := IncidentState{
			IncidentID:  r.incidentID,
			Phase:       PhaseActive,
			ArmProgress: s.ArmProgress,
			Hospitals:   append([]api.Hospital{}, r.hospitals...),
			Ambulances:  make([]api.Ambulance, len(r.fleet)),
			DataSource:  r.source,
		}
		reading := r.reading
		next.CurrentPosition = &reading
		if len(next.Hospitals) > 0 {
			h := next.Hospitals[0]
			next.SelectedHospital = &h
		}
		for i, a := range r.fleet {
			next.Ambulances[i] = a.Clone()
		}
		if r.dispatched >= 0 && r.dispatched < len(next.Ambulances) {
			next.Ambulances[r.dispatched].Status = api.AmbulanceDispatched
			a := next.Ambulances[r.dispatched].Clone()
			next.DispatchedAmbulance = &a
		}
		return next, effChanged | effStartTracking, nil

	case positionUpdated:
		if s.Phase != PhaseActive {
			return s, 0, nil
		}
		reading := ev.reading
		if reading.Address == "" && s.CurrentPosition != nil {
			reading.Address = s.CurrentPosition.Address
		}
		s.CurrentPosition = &reading
		return s, effChanged, nil

	case hospitalSelected:
		for _, h := range s.Hospitals {
			if h.ID == ev.id {
				selected := h
				s.SelectedHospital = &selected
				return s, effChanged, nil
			}
		}
		return s, 0, ErrUnknownHospital

	case cancelled:
		if s.Phase == PhaseIdle && s.ArmProgress == 0 && s.LastError == nil {
			return s, 0, nil
		}
		return idleState(), effChanged | effStopArming | effTeardown, nil
	}
	return s, 0, nil
}
