package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	core "github.com/3cpo-dev/lifelink/internal/core"
	"github.com/3cpo-dev/lifelink/internal/intake"
)

// Create the root command
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lifelink-intake",
		Short:         "Development emergency intake: report, geocode and hospital routes",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			cfgPath, _ := cmd.Flags().GetString("config")
			return run(cmd.Context(), addr, cfgPath)
		},
	}
	cmd.Flags().String("addr", ":3000", "listen address")
	cmd.Flags().String("config", "", "config file (offline hospital list)")
	cmd.Flags().StringP("log", "l", "info", "Set log level. Available: trace, debug, info, warn, error, fatal")

	cmd.PersistentPreRun = func(c *cobra.Command, args []string) {
		levelStr, _ := c.Flags().GetString("log")
		level, err := zerolog.ParseLevel(levelStr)
		if err != nil || levelStr == "" {
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)
	}
	return cmd
}

// run serves the intake until ctx ends or SIGINT/SIGTERM arrives.
func run(ctx context.Context, addr, cfgPath string) error {
	cfg, err := core.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	srv := intake.New("dev", cfg.Locator.Offline.Hospitals)
	srv.Token = cfg.Intake.Token

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(addr) }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("lifelink-intake shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Setup the logger
func setupLogger() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	setupLogger()
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("lifelink-intake failed")
	}
}
