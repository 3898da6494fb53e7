package core

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/3cpo-dev/lifelink/pkg/api"
)

// Store is a SQLite-backed incident journal.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

// IncidentRecord is one journaled activation.
type IncidentRecord struct {
	ID                string
	StartedAt         time.Time
	EndedAt           *time.Time
	Latitude          float64
	Longitude         float64
	Address           string
	HospitalID        string
	HospitalName      string
	AmbulanceCallSign string
	DataSource        string
}

type PositionRecord struct {
	RecordedAt  time.Time
	Latitude    float64
	Longitude   float64
	Accuracy    float64
	Phase       string
	Reported    bool
	ReportError string
}

func NewStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) OpenIncident(ctx context.Context, rec IncidentRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO incidents
		(id, started_at, latitude, longitude, address, hospital_id, hospital_name, ambulance_call_sign, data_source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StartedAt.UnixMilli(), rec.Latitude, rec.Longitude, rec.Address,
		rec.HospitalID, rec.HospitalName, rec.AmbulanceCallSign, rec.DataSource)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

func (s *Store) RecordPosition(ctx context.Context, incidentID string, r api.PositionReading, phase string, reportErr error) error {
	errText := ""
	if reportErr != nil {
		errText = reportErr.Error()
	}
	recorded := r.Timestamp
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO positions
		(incident_id, recorded_at, latitude, longitude, accuracy, phase, reported, report_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		incidentID, recorded.UnixMilli(), r.Latitude, r.Longitude, r.Accuracy, phase, reportErr == nil, errText)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// CloseIncident stamps the end time once; closing twice keeps the first stamp.
// UpdateHospital records the hospital the user selected for an incident.
func (s *Store) UpdateHospital(ctx context.Context, incidentID string, h api.Hospital) error {
	_, err := s.db.ExecContext(ctx, `UPDATE incidents SET hospital_id = ?, hospital_name = ? WHERE id = ?`, h.ID, h.Name, incidentID)
	if err != nil {
		return fmt.Errorf("update hospital: %w", err)
	}
	return nil
}

func (s *Store) CloseIncident(ctx context.Context, incidentID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE incidents SET ended_at = ? WHERE id = ? AND ended_at IS NULL`, at.UnixMilli(), incidentID)
	if err != nil {
		return fmt.Errorf("close incident: %w", err)
	}
	return nil
}

// ListIncidents returns the most recent incidents first.
func (s *Store) ListIncidents(ctx context.Context, limit int) ([]IncidentRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, started_at, ended_at, latitude, longitude, address,
		hospital_id, hospital_name, ambulance_call_sign, data_source
		FROM incidents ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []IncidentRecord
	for rows.Next() {
		var rec IncidentRecord
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(&rec.ID, &started, &ended, &rec.Latitude, &rec.Longitude, &rec.Address,
			&rec.HospitalID, &rec.HospitalName, &rec.AmbulanceCallSign, &rec.DataSource); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		rec.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			t := time.UnixMilli(ended.Int64)
			rec.EndedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Positions(ctx context.Context, incidentID string) ([]PositionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT recorded_at, latitude, longitude, accuracy, phase, reported, report_error
		FROM positions WHERE incident_id = ? ORDER BY id`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []PositionRecord
	for rows.Next() {
		var p PositionRecord
		var recorded int64
		if err := rows.Scan(&recorded, &p.Latitude, &p.Longitude, &p.Accuracy, &p.Phase, &p.Reported, &p.ReportError); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.RecordedAt = time.UnixMilli(recorded)
		out = append(out, p)
	}
	return out, rows.Err()
}
