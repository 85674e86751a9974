package cli

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	daemonctl "github.com/axondata/go-daemonctl"
)

// globals holds the persistent flags and what they build
type globals struct {
	configPath  string
	debug       bool
	metricsAddr string

	logger  *zap.Logger
	metrics *http.Server
}

// Execute runs the command line in args and returns the process exit code
func Execute(ctx context.Context, args []string, stderr io.Writer) int {
	g := &globals{}
	cmd := newRootCmd(g)
	cmd.SetArgs(args)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	_ = g.teardown()
	return Report(stderr, err)
}

// NewRootCommand creates the root command with every subcommand attached
func NewRootCommand() *cobra.Command {
	return newRootCmd(&globals{})
}

func newRootCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemonctl",
		Short: "Run and watch a daemon under test",
		Long: `daemonctl starts the daemon under test through the configured
service-management mechanism, waits until it answers its client, and
watches it until it is stopped.

Configuration is read from --config and DAEMONCTL_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.setup()
		},
	}

	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to config file (YAML, TOML or JSON)")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&g.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")

	cmd.AddCommand(
		newRunCmd(g),
		newStatusCmd(g),
		newProbeCmd(g),
		newEnvCmd(g),
		newVersionCmd(g),
	)
	return cmd
}

func (g *globals) setup() error {
	var err error
	if g.debug {
		g.logger, err = zap.NewDevelopment()
	} else {
		g.logger, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}

	if g.metricsAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", g.metricsAddr)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	g.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := g.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	g.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}

func (g *globals) teardown() error {
	if g.metrics != nil {
		defer func() { g.metrics = nil }()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = g.metrics.Shutdown(ctx)
	}
	if g.logger != nil {
		_ = g.logger.Sync()
	}
	return nil
}

func (g *globals) config() (*daemonctl.Config, error) {
	cfg, err := daemonctl.LoadConfig(g.configPath)
	if err != nil {
		return nil, &ExitError{Code: ExitUsage, Err: err}
	}
	return cfg, nil
}

// log returns the logger; a no-op one before setup has run
func (g *globals) log() *zap.Logger {
	if g.logger == nil {
		return zap.NewNop()
	}
	return g.logger
}
