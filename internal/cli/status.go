package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	daemonctl "github.com/axondata/go-daemonctl"
)

func newStatusCmd(g *globals) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what the platform reports about the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			variant, err := cfg.ResolveVariant()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			ctrl, err := daemonctl.NewController(ctx, variant, cfg)
			if err != nil {
				return err
			}

			sched := daemonctl.NewScheduler(ctx, daemonctl.WithSchedulerLogger(g.log()))
			defer func() { _ = sched.Shutdown(cfg.Timeouts.MonitorStop) }()
			gov := daemonctl.NewGovernor(ctrl, sched, daemonctl.WithLogger(g.log()))

			mgr := daemonctl.NewManager(daemonctl.WithTimeout(cfg.Timeouts.Command))
			snaps, err := mgr.Status(ctx, gov)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), format, snaps[0], func(w io.Writer) error {
				return writeSnapshot(w, snaps[0])
			})
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", formatText, "Output format: text, yaml or json")
	return cmd
}

func writeSnapshot(w io.Writer, s daemonctl.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "variant:\t%s\n", s.Variant)
	fmt.Fprintf(tw, "active:\t%t\n", s.Active)
	fmt.Fprintf(tw, "last exit:\t%s\n", s.Exit)
	return tw.Flush()
}
