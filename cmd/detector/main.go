package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go-relay/internal/bootstrap"
	"go-relay/internal/detector"
	redisinfra "go-relay/internal/infrastructure/redis"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newDetectorCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newDetectorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "relay-detector",
		Short:        "Sweep the journal for sessions whose tasks must be stopped",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", os.Getenv("RELAY_CONFIG"), "Path to the YAML config file")
	return cmd
}

func run(ctx context.Context, configPath string) error {
	cfg, log, err := bootstrap.Load(configPath, "detector")
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return err
	}

	deps, err := bootstrap.Open(ctx, cfg, log, true)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialise dependencies")
		return err
	}
	defer deps.Close()

	d := detector.New(
		deps.Recorder,
		deps.Events,
		deps.Bus,
		deps.Gateway,
		redisinfra.NewClaimer(deps.Redis, cfg.Redis.ClaimPrefix),
		detector.Options{
			SweepInterval: cfg.Detector.SweepInterval,
			StaleAfter:    cfg.Detector.StaleAfter,
			ClaimTTL:      cfg.Detector.ClaimTTL,
			BatchSize:     cfg.Detector.BatchSize,
			Logger:        log,
		},
	)

	if err := d.Start(ctx); err != nil {
		log.Error().Err(err).Msg("detector stopped")
		return err
	}
	return nil
}
