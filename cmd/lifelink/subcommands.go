package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	core "github.com/3cpo-dev/lifelink/internal/core"
	prov "github.com/3cpo-dev/lifelink/internal/providers"
	"github.com/3cpo-dev/lifelink/internal/server"
	"github.com/3cpo-dev/lifelink/internal/telemetry"
)

// Hold the button and follow the incident until it is cancelled
func newSOSCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sos",
		Short: "Hold to request help, then stream live location until cancelled",
		RunE: func(cmd *cobra.Command, args []string) error {
			hold, _ := cmd.Flags().GetDuration("hold")
			track, _ := cmd.Flags().GetDuration("track")
			replay, _ := cmd.Flags().GetString("replay")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if replay != "" {
				cfg.Position.Provider = "replay"
				cfg.Position.ReplayFile = replay
			}
			rt, err := newRuntime(cfg, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			states, unwatch := rt.orch.Watch()
			defer unwatch()

			rt.orch.StartHold()
			select {
			case <-time.After(hold):
			case <-ctx.Done():
			}
			rt.orch.EndHold()
			if s := rt.orch.State(); s.Phase == core.PhaseIdle && s.LastError == nil {
				return errors.New("hold released before activation")
			}

			var deadline <-chan time.Time
			last := core.PhaseIdle
			for {
				select {
				case <-ctx.Done():
					rt.orch.Cancel()
					fmt.Println("incident cancelled")
					return nil
				case <-deadline:
					rt.orch.Cancel()
					fmt.Println("tracking finished, incident cancelled")
					return nil
				case s, ok := <-states:
					if !ok {
						return nil
					}
					switch {
					case s.Phase == core.PhaseActive && last != core.PhaseActive:
						printIncident(s)
						if track > 0 {
							deadline = time.After(track)
						}
					case s.Phase == core.PhaseActive && s.CurrentPosition != nil:
						fmt.Printf("position\t%.5f,%.5f\t±%.0fm\n", s.CurrentPosition.Latitude, s.CurrentPosition.Longitude, s.CurrentPosition.Accuracy)
					case s.Phase == core.PhaseIdle && s.LastError != nil:
						return errors.New(s.LastError.Message)
					case s.Phase == core.PhaseIdle && last == core.PhaseArming:
						return errors.New("hold released before activation")
					}
					last = s.Phase
				}
			}
		},
	}
	cmd.Flags().Duration("hold", 4*time.Second, "how long to hold the button")
	cmd.Flags().Duration("track", 0, "stop tracking after this long (0 tracks until interrupted)")
	cmd.Flags().String("replay", "", "replay positions from a YAML track file")
	return cmd
}

func printIncident(s core.IncidentState) {
	fmt.Printf("incident\t%s\n", s.IncidentID)
	if p := s.CurrentPosition; p != nil {
		fmt.Printf("location\t%.5f,%.5f\t%s\n", p.Latitude, p.Longitude, p.Address)
	}
	fmt.Printf("hospitals\t%d (source: %s)\n", len(s.Hospitals), s.DataSource)
	for _, h := range s.Hospitals {
		marker := " "
		if s.SelectedHospital != nil && s.SelectedHospital.ID == h.ID {
			marker = "*"
		}
		fmt.Printf("  %s %s\t%.1f km\t%.0f min\n", marker, h.Name, h.DistanceKm, h.DurationMin)
	}
	if a := s.DispatchedAmbulance; a != nil {
		fmt.Printf("ambulance\t%s\t%.2f km\tETA %d min\n", a.CallSign, a.DistanceKm, a.ETAMin)
	}
}

// Serve the incident API
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the incident control API, state feed and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Server.Addr = addr
			}
			rt, err := newRuntime(cfg, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			mon := telemetry.NewMonitor(rt.metrics)
			rt.healthChecks(mon)
			srv := &server.Server{
				Version:        version,
				Incident:       rt.orch,
				Monitor:        mon,
				AllowedOrigins: cfg.Server.AllowedOrigins,
			}

			errc := make(chan error, 1)
			go func() {
				tlsCfg := server.LoadTLSConfig()
				if tlsCfg.Enabled() {
					errc <- srv.ListenAndServeTLS(cfg.Server.Addr, tlsCfg)
					return
				}
				errc <- srv.ListenAndServe(cfg.Server.Addr)
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			log.Info().Msg("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	return cmd
}

// Query a locator directly
func newHospitalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hospitals",
		Short: "List hospitals near a coordinate",
		RunE: func(cmd *cobra.Command, args []string) error {
			lat, _ := cmd.Flags().GetFloat64("lat")
			lng, _ := cmd.Flags().GetFloat64("lng")
			name, _ := cmd.Flags().GetString("locator")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := prov.ValidateCoordinates(lat, lng); err != nil {
				return err
			}
			reg := resolveRegistry(cfg)
			if name == "" {
				name = cfg.Locator.Default
			}
			loc, err := reg.Get(name)
			if err != nil {
				return fmt.Errorf("%w (available: %s)", err, strings.Join(reg.Names(), ", "))
			}
			res, err := loc.FindNearby(cmd.Context(), lat, lng)
			if err != nil {
				return err
			}
			fmt.Printf("source: %s\n", res.Source)
			for _, h := range res.Hospitals {
				fmt.Printf("%s\t%s\t%.1f km\t%.0f min\n", h.ID, h.Name, h.DistanceKm, h.DurationMin)
			}
			return nil
		},
	}
	cmd.Flags().Float64("lat", 0, "latitude")
	cmd.Flags().Float64("lng", 0, "longitude")
	cmd.Flags().String("locator", "", "locator backend (default from config)")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lng")
	return cmd
}

// Inspect the incident journal
func newIncidentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "incidents [id]",
		Short: "List journaled incidents, or the positions of one incident",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := core.NewStore(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				positions, err := store.Positions(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for _, p := range positions {
					status := "reported"
					if !p.Reported {
						status = "failed: " + p.ReportError
					}
					fmt.Printf("%s\t%s\t%.5f,%.5f\t%s\n", p.RecordedAt.Format(time.RFC3339), p.Phase, p.Latitude, p.Longitude, status)
				}
				return nil
			}

			incidents, err := store.ListIncidents(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, inc := range incidents {
				ended := "active"
				if inc.EndedAt != nil {
					ended = inc.EndedAt.Format(time.RFC3339)
				}
				fmt.Printf("%s\t%s\t%s\t%s\t%s\n", inc.ID, inc.StartedAt.Format(time.RFC3339), ended, inc.HospitalName, inc.AmbulanceCallSign)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "maximum incidents to list")
	return cmd
}

// Write a default configuration file
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a default config file if missing. Run this the first time.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = filepath.Join(core.ConfigDir(), "config.yaml")
			}
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("config already exists at %s\n", path)
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			content, err := yaml.Marshal(prov.DefaultConfig())
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, content, 0o600); err != nil {
				return err
			}
			fmt.Printf("wrote default config to %s\n", path)
			return nil
		},
	}
}

// Shell completion scripts
func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate shell completion scripts",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(os.Stdout, true)
			case "zsh":
				return root.GenZshCompletion(os.Stdout)
			case "fish":
				return root.GenFishCompletion(os.Stdout, true)
			default:
				return root.GenPowerShellCompletionWithDesc(os.Stdout)
			}
		},
	}
}
