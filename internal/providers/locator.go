package providers

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"

	"github.com/3cpo-dev/lifelink/pkg/api"
)

// HTTPLocator queries the intake's hospital lookup endpoint.
type HTTPLocator struct {
	endpoint string
	client   intakeClient
}

func NewHTTPLocator(cfg Config) *HTTPLocator {
	return &HTTPLocator{endpoint: cfg.Intake.HospitalsURL, client: newIntakeClient(cfg, cfg.Intake.Retries)}
}

func (l *HTTPLocator) Name() string { return "http" }

func (l *HTTPLocator) FindNearby(ctx context.Context, lat, lng float64) (api.HospitalResult, error) {
	unavailable := api.HospitalResult{Hospitals: []api.Hospital{}, Source: api.SourceUnavailable}
	if err := ValidateCoordinates(lat, lng); err != nil {
		return unavailable, fmt.Errorf("%w: %v", api.ErrLocatorUnavailable, err)
	}
	u, err := withCoords(l.endpoint, lat, lng)
	if err != nil {
		return unavailable, fmt.Errorf("%w: %v", api.ErrLocatorUnavailable, err)
	}
	var out api.HospitalResult
	if err := l.client.doJSON(ctx, http.MethodGet, u, nil, &out); err != nil {
		return unavailable, fmt.Errorf("%w: %v", api.ErrLocatorUnavailable, err)
	}
	if out.Hospitals == nil {
		out.Hospitals = []api.Hospital{}
	}
	if out.Source == "" {
		out.Source = l.Name()
	}
	return out, nil
}

// OfflineLocator serves a configured hospital list ranked by straight-line
// distance from the query point. It keeps the client useful with no network.
type OfflineLocator struct {
	source    string
	hospitals []api.Hospital
}

// Average urban ambulance speed used for offline duration estimates.
const offlineSpeedKmH = 30.0

func NewOfflineLocator(cfg Config) *OfflineLocator {
	src := cfg.Locator.Offline.Source
	if src == "" {
		src = "offline"
	}
	return &OfflineLocator{source: src, hospitals: cfg.Locator.Offline.Hospitals}
}

func (l *OfflineLocator) Name() string { return "offline" }

func (l *OfflineLocator) FindNearby(ctx context.Context, lat, lng float64) (api.HospitalResult, error) {
	if err := ctx.Err(); err != nil {
		return api.HospitalResult{Hospitals: []api.Hospital{}, Source: api.SourceUnavailable}, fmt.Errorf("%w: %v", api.ErrLocatorUnavailable, err)
	}
	if err := ValidateCoordinates(lat, lng); err != nil {
		return api.HospitalResult{Hospitals: []api.Hospital{}, Source: api.SourceUnavailable}, fmt.Errorf("%w: %v", api.ErrLocatorUnavailable, err)
	}
	out := make([]api.Hospital, 0, len(l.hospitals))
	for _, h := range l.hospitals {
		d := HaversineKm(lat, lng, h.Location.Lat, h.Location.Lng)
		h.DistanceKm = math.Round(d*10) / 10
		h.DurationMin = math.Ceil(d / offlineSpeedKmH * 60)
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return api.HospitalResult{Hospitals: out, Source: l.source}, nil
}

// HaversineKm returns the great-circle distance between two points.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKm = 6371.0
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
