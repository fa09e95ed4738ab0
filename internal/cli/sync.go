package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OhMinsSup/jwc-platform-sub001/internal/registration"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/sheets"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Rewrite the spreadsheet from the registration store",
		Long: `Queue one spreadsheet sync of every stored registration, keeping the
latest registration per person, and wait for it to finish. Requires
SPREADSHEET_ID and GOOGLE_SERVICE_ACCOUNT_JSON.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Sync == nil {
				return errors.New("spreadsheet sync is not configured")
			}

			tracked, err := a.Store.ListRegistrations(ctx)
			if err != nil {
				return err
			}
			records := make([]registration.Record, 0, len(tracked))
			for _, t := range tracked {
				records = append(records, t.Record)
			}
			jobID, err := sheets.EnqueueSync(ctx, a.Sync, a.SheetName(), "cli-sync", records)
			if err != nil {
				return err
			}

			drainCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := a.Drain(drainCtx); err != nil {
				return fmt.Errorf("wait for sync: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sync %s finished for %d registrations\n", jobID, len(records))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the sync")

	return cmd
}
