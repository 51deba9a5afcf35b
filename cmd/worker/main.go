package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go-relay/internal/bootstrap"
	"go-relay/internal/worker"

	"github.com/spf13/cobra"
)

type workerOptions struct {
	configPath  string
	concurrency int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newWorkerCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newWorkerCmd() *cobra.Command {
	opts := &workerOptions{}

	cmd := &cobra.Command{
		Use:          "relay-worker",
		Short:        "Run background tasks popped from the invocation queue",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", os.Getenv("RELAY_CONFIG"), "Path to the YAML config file")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "Number of worker loops (overrides worker.concurrency)")
	return cmd
}

func run(ctx context.Context, opts *workerOptions) error {
	cfg, log, err := bootstrap.Load(opts.configPath, "worker")
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return err
	}
	if opts.concurrency > 0 {
		cfg.Worker.Concurrency = opts.concurrency
	}

	deps, err := bootstrap.Open(ctx, cfg, log, true)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialise dependencies")
		return err
	}
	defer deps.Close()

	w := worker.NewWorker(deps.Queue, deps.Bus, deps.Recorder, deps.Sessions, worker.InitRegistry(), worker.Options{
		TaskTimeout: cfg.Worker.TaskTimeout,
		PopTimeout:  cfg.Worker.PopTimeout,
		Logger:      log,
	})

	go func() {
		if err := w.ListenForStops(ctx); err != nil {
			log.Error().Err(err).Msg("stop listener failed")
		}
	}()

	wg := w.StartPool(ctx, cfg.Worker.Concurrency)
	<-ctx.Done()
	log.Info().Msg("waiting for worker loops to finish")
	wg.Wait()
	return nil
}
