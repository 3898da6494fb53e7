package api

import "time"

// v0 contains the public types shared by the client, the intake service and SDK users.

type Coordinates struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// PositionReading is a single fix from a position source. Readings are values:
// a newer reading supersedes an older one, nothing mutates a reading in place.
type PositionReading struct {
	Latitude  float64   `json:"latitude" yaml:"latitude"`
	Longitude float64   `json:"longitude" yaml:"longitude"`
	Accuracy  float64   `json:"accuracy" yaml:"accuracy"`
	Speed     *float64  `json:"speed,omitempty" yaml:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty" yaml:"heading,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Address   string    `json:"address,omitempty" yaml:"address,omitempty"`
}

func (r PositionReading) Coordinates() Coordinates {
	return Coordinates{Lat: r.Latitude, Lng: r.Longitude}
}

// WithAddress returns a copy of the reading carrying addr.
func (r PositionReading) WithAddress(addr string) PositionReading {
	r.Address = addr
	return r
}

type Hospital struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	DistanceKm  float64     `json:"distance" yaml:"distance_km"`
	DurationMin float64     `json:"duration" yaml:"duration_min"`
	Location    Coordinates `json:"location" yaml:"location"`
}

// HospitalResult is what a responder locator returns. Source is always set,
// including on empty or degraded results.
type HospitalResult struct {
	Hospitals []Hospital `json:"hospitals"`
	Source    string     `json:"source"`
}

type AmbulanceStatus string

const (
	AmbulanceAvailable  AmbulanceStatus = "available"
	AmbulanceDispatched AmbulanceStatus = "dispatched"
	AmbulanceEnRoute    AmbulanceStatus = "en_route"
	AmbulanceArrived    AmbulanceStatus = "arrived"
)

type Ambulance struct {
	ID         string          `json:"id"`
	CallSign   string          `json:"callSign"`
	Location   Coordinates     `json:"location"`
	Status     AmbulanceStatus `json:"status"`
	ETAMin     int             `json:"eta"`
	DistanceKm float64         `json:"distance"`
	Crew       int             `json:"crew"`
	Equipment  []string        `json:"equipment"`
}

// Clone copies the ambulance including its equipment list.
func (a Ambulance) Clone() Ambulance {
	if a.Equipment != nil {
		eq := make([]string, len(a.Equipment))
		copy(eq, a.Equipment)
		a.Equipment = eq
	}
	return a
}

// SourceUnavailable tags a hospital list that could not be fetched.
const SourceUnavailable = "unavailable"
