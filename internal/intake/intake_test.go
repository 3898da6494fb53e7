package intake

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	prov "github.com/3cpo-dev/lifelink/internal/providers"
	"github.com/3cpo-dev/lifelink/pkg/api"
)

func newClientConfig(base string) prov.Config {
	cfg := prov.DefaultConfig()
	cfg.Intake.ReportURL = base + "/api/emergency"
	cfg.Intake.GeocodeURL = base + "/api/geocode"
	cfg.Intake.HospitalsURL = base + "/api/hospitals"
	cfg.Intake.TimeoutSeconds = 2
	return cfg
}

// TestClientsAgainstIntake drives the real client adapters against the dev intake
func TestClientsAgainstIntake(t *testing.T) {
	srv := New("test", nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	cfg := newClientConfig(ts.URL)
	ctx := context.Background()

	reading := api.PositionReading{Latitude: 12.9300, Longitude: 77.6190, Accuracy: 12, Timestamp: time.UnixMilli(1700000000000)}
	if err := prov.NewReporter(cfg).Report(ctx, reading); err != nil {
		t.Fatalf("report: %v", err)
	}
	reps := srv.Reports()
	if len(reps) != 1 || reps[0].Payload.Timestamp != 1700000000000 || reps[0].ID == "" {
		t.Fatalf("unexpected reports %+v", reps)
	}

	addr, err := prov.NewGeocoder(cfg).Resolve(ctx, 12.9300, 77.6190)
	if err != nil {
		t.Fatalf("geocode: %v", err)
	}
	if addr != "Near St. John's Medical College Hospital" {
		t.Fatalf("address %q", addr)
	}

	res, err := prov.NewHTTPLocator(cfg).FindNearby(ctx, 12.9300, 77.6190)
	if err != nil {
		t.Fatalf("hospitals: %v", err)
	}
	if res.Source != "intake" || len(res.Hospitals) != 4 || res.Hospitals[0].ID != "blr-stjohns" {
		t.Fatalf("unexpected hospitals %+v", res)
	}
}

func TestGeocodeFarFromHospitals(t *testing.T) {
	rr := httptest.NewRecorder()
	New("test", nil).Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/geocode?lat=10&lng=70", nil))
	var out map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	if out["address"] != "10.00000, 70.00000" {
		t.Fatalf("address %q", out["address"])
	}
}

func TestRejectsBadInput(t *testing.T) {
	h := New("test", nil).Handler()
	cases := []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/hospitals?lat=abc&lng=1", nil),
		httptest.NewRequest(http.MethodGet, "/api/geocode?lat=95&lng=1", nil),
		httptest.NewRequest(http.MethodPost, "/api/emergency", strings.NewReader(`{`)),
		httptest.NewRequest(http.MethodPost, "/api/emergency", strings.NewReader(`{"latitude":0,"longitude":200}`)),
	}
	for _, req := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: status %d", req.Method, req.URL, rr.Code)
		}
	}
}

func TestTokenRequired(t *testing.T) {
	srv := New("test", nil)
	srv.Token = "abc"
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	cfg := newClientConfig(ts.URL)
	err := prov.NewReporter(cfg).Report(context.Background(), api.PositionReading{Latitude: 1, Longitude: 1})
	if !errors.Is(err, api.ErrReportingFailed) {
		t.Fatalf("expected ErrReportingFailed, got %v", err)
	}
	cfg.Intake.Token = "abc"
	if err := prov.NewReporter(cfg).Report(context.Background(), api.PositionReading{Latitude: 1, Longitude: 1}); err != nil {
		t.Fatalf("report with token: %v", err)
	}
}

func TestReportLogIsBounded(t *testing.T) {
	srv := New("test", nil)
	srv.MaxReports = 2
	h := srv.Handler()
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/emergency", strings.NewReader(`{"latitude":1,"longitude":1,"accuracy":1,"timestamp":`+strconv.Itoa(i+1)+`}`)))
		if rr.Code != http.StatusAccepted {
			t.Fatalf("status %d", rr.Code)
		}
	}
	reps := srv.Reports()
	if len(reps) != 2 || reps[0].Payload.Timestamp != 2 || reps[1].Payload.Timestamp != 3 {
		t.Fatalf("unexpected log %+v", reps)
	}
}
