package cli

import (
	"fmt"
	"strings"

	"go-relay/internal/domain"

	"github.com/spf13/cobra"
)

func newEventsCmd(opts *rootOptions) *cobra.Command {
	var after string

	cmd := &cobra.Command{
		Use:   "events <session-id>",
		Short: "List a session's events in sequence order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			events, err := s.svc.Events(cmd.Context(), args[0], after)
			if err != nil {
				return err
			}
			if events == nil {
				events = []domain.Event{}
			}
			return printJSON(cmd.OutOrStdout(), events)
		},
	}

	cmd.Flags().StringVar(&after, "after", "", "Only events after this sequence key")
	return cmd
}

func newLatestCmd(opts *rootOptions) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "latest <session-id> --status A,B",
		Short: "Show the latest event whose status is in the given set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			event, err := s.svc.Latest(cmd.Context(), args[0], statuses)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), event)
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Statuses to match (repeatable or comma separated)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func newStateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state <session-id>",
		Short: "Show the state derived from a session's journal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			view, err := s.svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
}

func newCancelCmd(opts *rootOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel a session that has not reached a terminal state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			event, err := s.svc.Cancel(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), event)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "cancelled from relayctl", "Reason recorded in the server log")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <status>",
		Short: "Check whether a status string would be accepted by the journal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := domain.ParseStatus(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if phase, stage, ok := status.Phase(); ok {
				_, err = fmt.Fprintf(out, "%s: valid phase status (phase=%s stage=%s)\n", status, phase, stage)
				return err
			}
			_, err = fmt.Fprintf(out, "%s: valid lifecycle status\n", status)
			return err
		},
	}
}
