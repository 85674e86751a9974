package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	daemonctl "github.com/axondata/go-daemonctl"
)

func newEnvCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Prepare or restore the host for a test session",
		Long: `Some controllers adjust the host before tests run. The launchd
controller, for example, replaces the daemon's job with one that is not
kept alive by launchd. "env setup" applies such changes and "env teardown"
restores the original configuration.`,
	}

	cmd.AddCommand(
		newEnvStepCmd(g, "setup", "Apply host changes needed for testing", daemonctl.EnvironmentPreparer.Setup),
		newEnvStepCmd(g, "teardown", "Restore the host", daemonctl.EnvironmentPreparer.Teardown),
	)
	return cmd
}

func newEnvStepCmd(g *globals, use, short string, step func(daemonctl.EnvironmentPreparer, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
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
			ctrl, err := daemonctl.NewController(cmd.Context(), variant, cfg)
			if err != nil {
				return err
			}

			p, ok := ctrl.(daemonctl.EnvironmentPreparer)
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "nothing to %s for %s\n", use, variant)
				return nil
			}
			if err := step(p, cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s done for %s\n", use, variant)
			return nil
		},
	}
}
