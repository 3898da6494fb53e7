package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	core "github.com/3cpo-dev/lifelink/internal/core"
	"github.com/3cpo-dev/lifelink/internal/dispatch"
	"github.com/3cpo-dev/lifelink/internal/position"
	prov "github.com/3cpo-dev/lifelink/internal/providers"
	"github.com/3cpo-dev/lifelink/internal/telemetry"
)

// runtime bundles the wired collaborators for one CLI invocation.
type runtime struct {
	cfg     prov.Config
	orch    *core.Orchestrator
	store   *core.Store
	metrics *telemetry.Metrics
}

func loadConfig(cmd *cobra.Command) (prov.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	return core.LoadConfig(cfgPath)
}

// Resolve the locator registry
func resolveRegistry(cfg prov.Config) *prov.Registry {
	reg := prov.NewRegistry()
	reg.Register(prov.NewHTTPLocator(cfg))
	reg.Register(prov.NewOfflineLocator(cfg))
	return reg
}

func newRuntime(cfg prov.Config, journal bool) (*runtime, error) {
	src, err := position.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	loc, err := resolveRegistry(cfg).Get(cfg.Locator.Default)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, metrics: telemetry.NewMetrics("lifelink")}
	deps := core.Deps{
		Source:     src,
		Geocoder:   prov.NewGeocoder(cfg),
		Reporter:   prov.NewReporter(cfg),
		Locator:    loc,
		Dispatcher: dispatch.NewSimulator(dispatch.OptionsFromConfig(cfg), time.Now().UnixNano()),
		Metrics:    rt.metrics,
	}
	if journal {
		store, err := core.NewStore(cfg.Store.Path)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.Store.Path).Msg("Incident journal disabled")
		} else {
			rt.store = store
			deps.Journal = store
		}
	}
	orch, err := core.NewOrchestrator(deps, core.Options{
		TickInterval:   time.Duration(cfg.Arming.TickMillis) * time.Millisecond,
		Step:           cfg.Arming.Step,
		AcquireTimeout: time.Duration(cfg.Position.AcquireTimeoutSeconds) * time.Second,
	})
	if err != nil {
		rt.store.Close()
		return nil, err
	}
	rt.orch = orch
	log.Debug().
		Str("position", cfg.Position.Provider).
		Str("locator", cfg.Locator.Default).
		Str("report_url", cfg.Intake.ReportURL).
		Msg("Runtime ready")
	return rt, nil
}

func (rt *runtime) Close() {
	rt.orch.Close()
	if err := rt.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Closing incident journal")
	}
}

// healthChecks reports the orchestrator phase and the journal connection.
func (rt *runtime) healthChecks(m *telemetry.Monitor) {
	m.RegisterHealthCheck("orchestrator", func() telemetry.HealthCheck {
		s := rt.orch.State()
		hc := telemetry.HealthCheck{
			Name:    "orchestrator",
			Status:  telemetry.HealthStatusHealthy,
			Message: fmt.Sprintf("phase %s", s.Phase),
			Details: map[string]string{"phase": string(s.Phase)},
		}
		if s.IncidentID != "" {
			hc.Details["incident"] = s.IncidentID
		}
		if s.LastError != nil {
			hc.Status = telemetry.HealthStatusDegraded
			hc.Message = s.LastError.Message
		}
		return hc
	})
	m.RegisterHealthCheck("journal", func() telemetry.HealthCheck {
		hc := telemetry.HealthCheck{Name: "journal", Status: telemetry.HealthStatusHealthy, Message: rt.cfg.Store.Path}
		if rt.store == nil {
			hc.Status = telemetry.HealthStatusDegraded
			hc.Message = "journal disabled"
			return hc
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := rt.store.Ping(ctx); err != nil {
			hc.Status = telemetry.HealthStatusUnhealthy
			hc.Message = err.Error()
		}
		return hc
	})
}
