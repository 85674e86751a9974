package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	daemonctl "github.com/axondata/go-daemonctl"
)

func newRunCmd(g *globals) *cobra.Command {
	var (
		printOutput bool
		check       bool
		duration    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the daemon and watch it until interrupted",
		Long: `Start the daemon through the configured controller, wait until it is
ready and keep watching it. Settings-changed exits are restarted
automatically; any other crash ends the command with a failure.

With --check the daemon is stopped again as soon as it is ready.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var output io.Writer
			if printOutput {
				output = cmd.OutOrStdout()
			}
			sess, err := daemonctl.OpenSession(ctx, cfg, g.log(), output)
			if err != nil {
				return err
			}

			runErr := runSession(ctx, g.log(), sess, cfg, check, duration)

			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Stop+cfg.Timeouts.MonitorStop)
			defer cancel()
			if err := sess.Close(closeCtx); err != nil {
				g.log().Warn("shutting down", zap.Error(err))
				if runErr == nil {
					runErr = err
				}
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&printOutput, "print-daemon-output", false, "Copy the daemon's output to stdout")
	cmd.Flags().BoolVar(&check, "check", false, "Stop the daemon once it is ready")
	cmd.Flags().DurationVar(&duration, "for", 0, "Stop the daemon after this long (0 runs until interrupted)")
	return cmd
}

func runSession(ctx context.Context, logger *zap.Logger, sess *daemonctl.Session, cfg *daemonctl.Config, check bool, duration time.Duration) error {
	if err := sess.Prepare(ctx); err != nil {
		return err
	}

	gov := sess.Governor()
	startCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Start)
	err := gov.Start(startCtx)
	cancel()
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return &ExitError{Code: ExitInterrupted, Err: err}
		}
		return err
	}
	logger.Info("daemon ready")
	if check {
		return nil
	}

	var deadline <-chan time.Time
	if duration > 0 {
		t := time.NewTimer(duration)
		defer t.Stop()
		deadline = t.C
	}

	select {
	case <-ctx.Done():
		logger.Info("interrupted, stopping daemon")
		return nil
	case <-deadline:
		return nil
	case failure := <-gov.Failures():
		return failure
	}
}
