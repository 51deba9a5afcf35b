// Package cli implements relayctl, the operator tool for inspecting and
// steering sessions straight from the journal database.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go-relay/internal/bootstrap"
	"go-relay/internal/service"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

// NewRootCmd creates the relayctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "relayctl",
		Short: "Inspect and steer relay sessions",
		Long: `relayctl reads and writes the session journal directly.

Available subcommands:
  events      List a session's events in order
  latest      Show the latest event matching a status set
  state       Show the derived state of a session
  cancel      Cancel a running session
  validate    Check whether a status string is accepted

Examples:
  relayctl --config relay.yaml events 3f2c9a
  relayctl --config relay.yaml latest 3f2c9a --status BACKGROUND_TASK_COMPLETED,BACKGROUND_TASK_FAILED
  relayctl validate TASK_download_STARTED`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to the YAML config file (default: $RELAY_CONFIG)")

	cmd.AddCommand(newEventsCmd(opts))
	cmd.AddCommand(newLatestCmd(opts))
	cmd.AddCommand(newStateCmd(opts))
	cmd.AddCommand(newCancelCmd(opts))
	cmd.AddCommand(newValidateCmd())

	return cmd
}

// session is an open connection to the journal for one command.
type session struct {
	deps *bootstrap.Deps
	svc  service.SessionService
}

func (o *rootOptions) open(ctx context.Context) (*session, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv("RELAY_CONFIG")
	}
	cfg, log, err := bootstrap.Load(path, "relayctl")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	deps, err := bootstrap.Open(ctx, cfg, log, false)
	if err != nil {
		return nil, err
	}
	return &session{
		deps: deps,
		svc:  service.NewSessionService(deps.Recorder, deps.Sessions, nil, nil, log),
	}, nil
}

func (s *session) Close() {
	s.svc.Close()
	s.deps.Close()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
