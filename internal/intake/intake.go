// Package intake is a development stand-in for the emergency intake backend.
// It records reports in memory and answers geocode and hospital lookups from
// a static directory.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	prov "github.com/3cpo-dev/lifelink/internal/providers"
	"github.com/3cpo-dev/lifelink/pkg/api"
)

// Report is one accepted position report.
type Report struct {
	ID         string             `json:"id"`
	ReceivedAt time.Time          `json:"received_at"`
	Payload    prov.ReportPayload `json:"payload"`
}

type Server struct {
	Version string
	// Token, when set, must be presented as a bearer token.
	Token string
	// MaxReports bounds the in-memory log; oldest entries are dropped first.
	MaxReports int

	locator *prov.OfflineLocator

	mu      sync.Mutex
	reports []Report
	srv     *http.Server
}

// DefaultHospitals is the built-in directory used when none is configured.
func DefaultHospitals() []api.Hospital {
	return []api.Hospital{
		{ID: "blr-stjohns", Name: "St. John's Medical College Hospital", Location: api.Coordinates{Lat: 12.9299, Lng: 77.6190}},
		{ID: "blr-manipal", Name: "Manipal Hospital Old Airport Road", Location: api.Coordinates{Lat: 12.9592, Lng: 77.6484}},
		{ID: "blr-victoria", Name: "Victoria Hospital", Location: api.Coordinates{Lat: 12.9634, Lng: 77.5733}},
		{ID: "blr-bowring", Name: "Bowring and Lady Curzon Hospital", Location: api.Coordinates{Lat: 12.9830, Lng: 77.6050}},
	}
}

// New builds an intake server answering lookups from hospitals.
func New(version string, hospitals []api.Hospital) *Server {
	if len(hospitals) == 0 {
		hospitals = DefaultHospitals()
	}
	cfg := prov.DefaultConfig()
	cfg.Locator.Offline.Source = "intake"
	cfg.Locator.Offline.Hospitals = hospitals
	return &Server{Version: version, MaxReports: 1000, locator: prov.NewOfflineLocator(cfg)}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)
	return mux
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/emergency", s.auth(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			s.handleReport(w, r)
		case http.MethodGet:
			writeJSON(w, http.StatusOK, s.Reports())
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}))
	mux.HandleFunc("/api/geocode", s.auth(s.handleGeocode))
	mux.HandleFunc("/api/hospitals", s.auth(s.handleHospitals))
	mux.HandleFunc("/v0/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"time": time.Now(), "host": r.Host, "version": s.Version})
	})
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var p prov.ReportPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := prov.ValidateCoordinates(p.Latitude, p.Longitude); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rep := Report{ID: uuid.New().String(), ReceivedAt: time.Now(), Payload: p}

	s.mu.Lock()
	s.reports = append(s.reports, rep)
	if s.MaxReports > 0 && len(s.reports) > s.MaxReports {
		s.reports = s.reports[len(s.reports)-s.MaxReports:]
	}
	s.mu.Unlock()

	log.Info().
		Str("id", rep.ID).
		Float64("lat", p.Latitude).
		Float64("lng", p.Longitude).
		Float64("accuracy", p.Accuracy).
		Msg("Emergency report received")
	writeJSON(w, http.StatusAccepted, map[string]string{"id": rep.ID})
}

// Reports returns a copy of the report log, oldest first.
func (s *Server) Reports() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Report{}, s.reports...)
}

func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	lat, lng, err := coords(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	addr := fmt.Sprintf("%.5f, %.5f", lat, lng)
	if res, err := s.locator.FindNearby(r.Context(), lat, lng); err == nil && len(res.Hospitals) > 0 && res.Hospitals[0].DistanceKm <= 1 {
		addr = "Near " + res.Hospitals[0].Name
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": addr})
}

func (s *Server) handleHospitals(w http.ResponseWriter, r *http.Request) {
	lat, lng, err := coords(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.locator.FindNearby(r.Context(), lat, lng)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func coords(r *http.Request) (float64, float64, error) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid lat: %q", q.Get("lat"))
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid lng: %q", q.Get("lng"))
	}
	return lat, lng, prov.ValidateCoordinates(lat, lng)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe starts the server
func (s *Server) ListenAndServe(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	log.Info().Str("addr", addr).Msg("Intake listening")
	return s.srv.ListenAndServe()
}

// Shutdown the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return fmt.Errorf("server not running")
	}
	return s.srv.Shutdown(ctx)
}
