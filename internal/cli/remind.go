package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// RemindOptions holds flags for the remind command.
type RemindOptions struct {
	At      string
	Timeout time.Duration
}

// NewRemindCommand creates the remind command.
func NewRemindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RemindOptions{}

	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Run one payment reminder pass and wait for delivery",
		Long: `Select unpaid registrations that are due for a payment reminder, queue
one SMS per person, and wait until every queued message has succeeded
or exhausted its retries. The summary is printed as JSON.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemind(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "evaluate due reminders as of this RFC3339 time (default now)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Minute, "how long to wait for queued messages")

	return cmd
}

func runRemind(cmd *cobra.Command, rootOpts *RootOptions, opts *RemindOptions) error {
	now := time.Now().UTC()
	if opts.At != "" {
		at, err := time.Parse(time.RFC3339, opts.At)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		now = at.UTC()
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, cmd, rootOpts)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.Scheduler.Run(ctx, now)
	if err != nil {
		return err
	}

	drainCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := a.Drain(drainCtx); err != nil {
		return fmt.Errorf("wait for reminders: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
