package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/lifelink/pkg/api"
)

// Reporter pushes readings to the emergency intake. Each call is a single
// attempt; the response body is ignored.
type Reporter struct {
	endpoint string
	client   intakeClient
}

func NewReporter(cfg Config) *Reporter {
	return &Reporter{endpoint: cfg.Intake.ReportURL, client: newIntakeClient(cfg, 0)}
}

// ReportPayload is the intake wire format. Timestamp is epoch milliseconds.
type ReportPayload struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
	Speed     *float64 `json:"speed"`
	Heading   *float64 `json:"heading"`
	Timestamp int64    `json:"timestamp"`
}

func NewReportPayload(r api.PositionReading) ReportPayload {
	return ReportPayload{
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Accuracy:  r.Accuracy,
		Speed:     r.Speed,
		Heading:   r.Heading,
		Timestamp: r.Timestamp.UnixMilli(),
	}
}

func (r *Reporter) Report(ctx context.Context, reading api.PositionReading) error {
	if err := r.client.doJSON(ctx, http.MethodPost, r.endpoint, NewReportPayload(reading), nil); err != nil {
		return fmt.Errorf("%w: %v", api.ErrReportingFailed, err)
	}
	log.Debug().
		Float64("lat", reading.Latitude).
		Float64("lng", reading.Longitude).
		Msg("Reported position to intake")
	return nil
}
