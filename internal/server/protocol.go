package server

import (
	"time"

	"github.com/3cpo-dev/lifelink/internal/core"
)

// StateResponse wraps an incident snapshot.
type StateResponse struct {
	Time    time.Time          `json:"time"`
	Version string             `json:"version"`
	State   core.IncidentState `json:"state"`
}

type SelectHospitalRequest struct {
	ID string `json:"id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
