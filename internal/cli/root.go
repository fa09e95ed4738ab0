package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/OhMinsSup/jwc-platform-sub001/internal/app"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/config"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile   string
	LogFormat string // overrides LOG_FORMAT when set
	LogLevel  string // overrides LOG_LEVEL when set
}

// NewRootCommand creates the root command for the retreat coordinator.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "retreat",
		Short: "Retreat registration coordinator",
		Long: `Normalizes retreat registrations coming from the shared spreadsheet,
keeps the registration store in sync, and dispatches payment reminder
SMS and spreadsheet sync jobs through bounded retrying pools.`,
		SilenceUsage:  true,
		SilenceErrors: true, // main prints the returned error
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.LogFormat {
			case "", "json", "console":
			default:
				return fmt.Errorf("invalid log format %q: must be json or console", opts.LogFormat)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "env file to load instead of ./.env")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (json|console)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRemindCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewNormalizeCommand(opts))

	return cmd
}

// loadConfig resolves configuration and a logger writing to the command's
// stderr, so stdout stays clean for command output.
func loadConfig(cmd *cobra.Command, opts *RootOptions) (config.Config, *slog.Logger, error) {
	var (
		cfg config.Config
		err error
	)
	if opts.EnvFile != "" {
		cfg, err = config.Load(opts.EnvFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return cfg, nil, err
	}
	if opts.LogFormat != "" {
		cfg.LogFormat = opts.LogFormat
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	return cfg, logging.NewWriter(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel), nil
}

func openApp(ctx context.Context, cmd *cobra.Command, opts *RootOptions) (*app.App, error) {
	cfg, logger, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger, app.Collaborators{})
}
