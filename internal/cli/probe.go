package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	daemonctl "github.com/axondata/go-daemonctl"
)

func newProbeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Wait until an already running daemon answers its client",
		Long: `Poll the daemon through its client, the same way the governor does
after starting it, until it answers with a matching version or the
readiness timeout expires.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			client, err := cfg.NewClient()
			if err != nil {
				return err
			}

			probe := daemonctl.NewProbe(client, cfg.ProbeOptions(g.log())...)
			if err := probe.WaitReady(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ready")
			return nil
		},
	}
}
