package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OhMinsSup/jwc-platform-sub001/internal/normalize"
)

// NewNormalizeCommand creates the normalize command and its subcommands.
// They run without configuration and print one result per input line.
func NewNormalizeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Normalize raw form values the way the webhook does",
	}

	cmd.AddCommand(newNormalizeFuncCommand("date <value>...", "Convert Korean or separated dates to YYYY-MM-DD", normalize.ParseDate))
	cmd.AddCommand(newNormalizeFuncCommand("time <value>...", "Convert Korean or clock times to HH:mm", normalize.ParseTime))
	cmd.AddCommand(newNormalizeFuncCommand("phone <value>...", "Format Korean phone numbers", normalize.ParsePhone))
	cmd.AddCommand(newNormalizeLabelCommand())

	return cmd
}

func newNormalizeFuncCommand(use, short string, fn func(string) string) *cobra.Command {
	return &cobra.Command{
		Use:          use,
		Short:        short,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, raw := range args {
				fmt.Fprintln(cmd.OutOrStdout(), fn(raw))
			}
			return nil
		},
	}
}

func newNormalizeLabelCommand() *cobra.Command {
	labels := normalize.DefaultLabels()
	return &cobra.Command{
		Use:          "label <domain> <label>...",
		Short:        "Map categorical labels to internal values",
		Long:         "Map categorical labels to internal values. Domains: " + domainList(labels.Domains()),
		Args:         cobra.MinimumNArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			domain := normalize.Domain(args[0])
			if !hasDomain(labels.Domains(), domain) {
				return fmt.Errorf("unknown domain %q: must be one of %s", args[0], domainList(labels.Domains()))
			}
			for _, raw := range args[1:] {
				v, ok := labels.Map(domain, raw)
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tunmapped\n", raw)
					continue
				}
				out, err := json.Marshal(v)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", raw, out)
			}
			return nil
		},
	}
}

func hasDomain(domains []normalize.Domain, d normalize.Domain) bool {
	for _, x := range domains {
		if x == d {
			return true
		}
	}
	return false
}

func domainList(domains []normalize.Domain) string {
	names := make([]string, 0, len(domains))
	for _, d := range domains {
		names = append(names, string(d))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
