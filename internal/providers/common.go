package providers

import "github.com/3cpo-dev/lifelink/pkg/api"

type Config struct {
	Intake struct {
		ReportURL      string `yaml:"report_url"`
		GeocodeURL     string `yaml:"geocode_url"`
		HospitalsURL   string `yaml:"hospitals_url"`
		Token          string `yaml:"token"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		Retries        int    `yaml:"retries"`
	} `yaml:"intake"`
	Locator struct {
		Default string `yaml:"default"`
		Offline struct {
			Source    string         `yaml:"source"`
			Hospitals []api.Hospital `yaml:"hospitals"`
		} `yaml:"offline"`
	} `yaml:"locator"`
	Arming struct {
		TickMillis int `yaml:"tick_ms"`
		Step       int `yaml:"step"`
	} `yaml:"arming"`
	Position struct {
		Provider              string  `yaml:"provider"`
		Latitude              float64 `yaml:"latitude"`
		Longitude             float64 `yaml:"longitude"`
		Accuracy              float64 `yaml:"accuracy"`
		IntervalMillis        int     `yaml:"interval_ms"`
		DriftMeters           float64 `yaml:"drift_m"`
		AcquireTimeoutSeconds int     `yaml:"acquire_timeout_seconds"`
		ReplayFile            string  `yaml:"replay_file"`
		Disabled              bool    `yaml:"disabled"`
	} `yaml:"position"`
	Dispatch struct {
		Count         int      `yaml:"count"`
		JitterDegrees float64  `yaml:"jitter_degrees"`
		ETAMinMinutes int      `yaml:"eta_min_minutes"`
		ETAMaxMinutes int      `yaml:"eta_max_minutes"`
		DistanceMinKm float64  `yaml:"distance_min_km"`
		DistanceMaxKm float64  `yaml:"distance_max_km"`
		Crew          int      `yaml:"crew"`
		Equipment     []string `yaml:"equipment"`
		CallSigns     []string `yaml:"call_signs"`
	} `yaml:"dispatch"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Server struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
}

// DefaultConfig mirrors the behaviour of the mobile client: a local intake on
// :3000, 60ms/2% arming ticks and three candidate ambulances.
func DefaultConfig() Config {
	var cfg Config
	cfg.Intake.ReportURL = "http://localhost:3000/api/emergency"
	cfg.Intake.GeocodeURL = "http://localhost:3000/api/geocode"
	cfg.Intake.HospitalsURL = "http://localhost:3000/api/hospitals"
	cfg.Intake.TimeoutSeconds = 5
	cfg.Intake.Retries = 1
	cfg.Locator.Default = "http"
	cfg.Locator.Offline.Source = "offline"
	cfg.Arming.TickMillis = 60
	cfg.Arming.Step = 2
	cfg.Position.Provider = "simulated"
	cfg.Position.Latitude = 12.9716
	cfg.Position.Longitude = 77.5946
	cfg.Position.Accuracy = 10
	cfg.Position.IntervalMillis = 2000
	cfg.Position.DriftMeters = 5
	cfg.Position.AcquireTimeoutSeconds = 15
	cfg.Dispatch.Count = 3
	cfg.Dispatch.JitterDegrees = 0.02
	cfg.Dispatch.ETAMinMinutes = 3
	cfg.Dispatch.ETAMaxMinutes = 12
	cfg.Dispatch.DistanceMinKm = 0.5
	cfg.Dispatch.DistanceMaxKm = 3.5
	cfg.Dispatch.Crew = 2
	cfg.Dispatch.Equipment = []string{"AED", "Oxygen"}
	cfg.Dispatch.CallSigns = []string{"AMB-101", "AMB-102", "AMB-103"}
	cfg.Server.Addr = "127.0.0.1:8090"
	return cfg
}
