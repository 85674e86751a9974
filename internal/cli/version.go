package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	daemonctl "github.com/axondata/go-daemonctl"
)

func newVersionCmd(g *globals) *cobra.Command {
	var (
		format string
		daemon bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the daemonctl version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := daemonctl.GetVersion()
			err := render(cmd.OutOrStdout(), format, info, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "daemonctl %s (variants: %s)\n", info.Version, strings.Join(info.Variants, ", "))
				return err
			})
			if err != nil || !daemon {
				return err
			}

			cfg, err := g.config()
			if err != nil {
				return err
			}
			client, err := cfg.NewClient()
			if err != nil {
				return err
			}
			res, err := client.Version(cmd.Context())
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), res.Output)
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", formatText, "Output format: text, yaml or json")
	cmd.Flags().BoolVar(&daemon, "daemon", false, "Also print the client's and daemon's versions")
	return cmd
}
