package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the emergency pipeline.
type ErrorKind string

const (
	KindLocationUnavailable ErrorKind = "location_unavailable"
	KindGeocodeUnavailable  ErrorKind = "geocode_unavailable"
	KindReportingFailed     ErrorKind = "reporting_failed"
	KindLocatorUnavailable  ErrorKind = "locator_unavailable"
)

var (
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrGeocodeUnavailable  = errors.New("geocode unavailable")
	ErrReportingFailed     = errors.New("reporting failed")
	ErrLocatorUnavailable  = errors.New("locator unavailable")
)

// MsgEnableLocation is the only user-visible failure message.
const MsgEnableLocation = "Enable location to request help"

// IncidentError is the presentation-facing form of a pipeline failure.
type IncidentError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e IncidentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// KindOf maps an error onto the taxonomy. Unknown errors return "".
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLocationUnavailable):
		return KindLocationUnavailable
	case errors.Is(err, ErrGeocodeUnavailable):
		return KindGeocodeUnavailable
	case errors.Is(err, ErrReportingFailed):
		return KindReportingFailed
	case errors.Is(err, ErrLocatorUnavailable):
		return KindLocatorUnavailable
	}
	return ""
}

// NewIncidentError classifies err for presentation. Activation only fails
// when no fix can be acquired, so unclassified errors surface as
// location_unavailable. Only that kind carries the enable-location message.
func NewIncidentError(err error) IncidentError {
	var ie IncidentError
	if errors.As(err, &ie) {
		return ie
	}
	kind := KindOf(err)
	if kind == "" {
		kind = KindLocationUnavailable
	}
	if kind == KindLocationUnavailable {
		return IncidentError{Kind: kind, Message: MsgEnableLocation}
	}
	return IncidentError{Kind: kind, Message: err.Error()}
}
