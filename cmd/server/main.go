package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-relay/internal/api/handler"
	"go-relay/internal/bootstrap"
	"go-relay/internal/orchestrator"
	"go-relay/internal/retention"
	"go-relay/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newServerCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newServerCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "relay-server",
		Short:        "Serve the session API and orchestrate triggered sessions",
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
	// 1. Load configuration and logger
	cfg, log, err := bootstrap.Load(configPath, "server")
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return err
	}

	// 2. Database, Redis and the journal recorder
	deps, err := bootstrap.Open(ctx, cfg, log, true)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialise dependencies")
		return err
	}
	defer deps.Close()

	// 3. Orchestrator and session service
	orch := orchestrator.New(deps.Recorder, deps.Gateway, orchestrator.Options{
		PollInterval: cfg.Orchestrator.PollInterval,
		Budget:       cfg.Orchestrator.Budget,
		GatewayRetry: bootstrap.RetryPolicy(cfg.Orchestrator.Retry, log),
		Logger:       log,
	})
	sessions := service.NewSessionService(deps.Recorder, deps.Sessions, orch, nil, log)
	defer sessions.Close()

	// 4. Pick up sessions left open by the previous process
	go func() {
		n, err := sessions.ResumeOpen(ctx, deps.Events, cfg.Detector.BatchSize)
		if err != nil {
			log.Error().Err(err).Int("resumed", n).Msg("failed to resume open sessions")
			return
		}
		log.Info().Int("resumed", n).Msg("open sessions resumed")
	}()

	// 5. Retention janitor
	janitor := retention.NewJanitor(cfg.Journal.RetentionInterval, nil, log, deps.Events, deps.Sessions)
	go janitor.Start(ctx)

	// 6. HTTP routes
	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(handler.NewSessionHandler(sessions), log)
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 7. Start server
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		log.Error().Err(err).Msg("failed to start server")
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	return nil
}
