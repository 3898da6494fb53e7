package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/3cpo-dev/lifelink/pkg/api"
)

// Geocoder resolves coordinates to a street address through the intake's
// geocode endpoint. It never retries; callers treat any error as "no address".
type Geocoder struct {
	endpoint string
	client   intakeClient
}

func NewGeocoder(cfg Config) *Geocoder {
	return &Geocoder{endpoint: cfg.Intake.GeocodeURL, client: newIntakeClient(cfg, 0)}
}

type geocodeResp struct {
	Address string `json:"address"`
}

func (g *Geocoder) Resolve(ctx context.Context, lat, lng float64) (string, error) {
	if err := ValidateCoordinates(lat, lng); err != nil {
		return "", fmt.Errorf("%w: %v", api.ErrGeocodeUnavailable, err)
	}
	u, err := withCoords(g.endpoint, lat, lng)
	if err != nil {
		return "", fmt.Errorf("%w: %v", api.ErrGeocodeUnavailable, err)
	}
	var out geocodeResp
	if err := g.client.doJSON(ctx, http.MethodGet, u, nil, &out); err != nil {
		return "", fmt.Errorf("%w: %v", api.ErrGeocodeUnavailable, err)
	}
	if out.Address == "" {
		return "", fmt.Errorf("%w: no address for %.5f,%.5f", api.ErrGeocodeUnavailable, lat, lng)
	}
	return out.Address, nil
}

func withCoords(endpoint string, lat, lng float64) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(lng, 'f', -1, 64))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
