package providers

import (
	"context"

	"github.com/3cpo-dev/lifelink/pkg/api"
)

// Locator finds hospitals near a coordinate. Implementations always populate
// the result's Source, even when they fail.
type Locator interface {
	Name() string
	FindNearby(ctx context.Context, lat, lng float64) (api.HospitalResult, error)
}
