package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	runtimepkg "github.com/drblury/edgeflow/internal/runtime"
	"github.com/drblury/edgeflow/internal/runtime/bus"
	configpkg "github.com/drblury/edgeflow/internal/runtime/config"
	loggingpkg "github.com/drblury/edgeflow/internal/runtime/logging"
	"github.com/drblury/edgeflow/internal/runtime/rest"
	"github.com/drblury/edgeflow/internal/runtime/retrystore"
	"github.com/drblury/edgeflow/transport"
	_ "github.com/drblury/edgeflow/transport/transports"
)

const shutdownTimeout = 15 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	SignInFile string

	// Registry overrides the broker registry (for testing).
	Registry *transport.Registry
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sign in and run the activities placed on this node",
		Long: `Start the node: open the retry store, build the transport contract,
complete the sign-in from the given document and run until interrupted.

Example:
  edgenode run --config ./edgenode.yaml --sign-in ./signin.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNode(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.SignInFile, "sign-in", "", "path to the sign-in document (required)")
	_ = cmd.MarkFlagRequired("sign-in")

	return cmd
}

func runNode(cmd *cobra.Command, opts *RunOptions) error {
	conf, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	resp, err := configpkg.LoadSignIn(opts.SignInFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load sign-in", err)
	}
	_, logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var registry *prometheus.Registry
	if conf.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	store, err := retrystore.Open(conf)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open retry store", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("Failed to close retry store", closeErr, nil)
		}
	}()

	var replayMetrics *retrystore.Metrics
	contractOpts := runtimepkg.BusContractOptions{
		Store:    store,
		Logger:   logger,
		Registry: opts.Registry,
	}
	if conf.Debug {
		contractOpts.Hooks = bus.LoggingHooks(logger)
	}
	if registry != nil {
		replayMetrics = retrystore.NewMetrics(registry)
		if err := replayMetrics.Register(); err != nil {
			return WrapExitError(ExitFailure, "failed to register retry store metrics", err)
		}
		store = retrystore.WithMetrics(store, replayMetrics)
		contractOpts.Store = store
		contractOpts.MetricsRegisterer = registry
	}

	node, err := runtimepkg.NewNode(conf, logger, runtimepkg.NodeDependencies{
		Contract:      runtimepkg.BusContract(contractOpts),
		Store:         store,
		ReplayMetrics: replayMetrics,
		Output:        cmd.OutOrStdout(),
		Callbacks: runtimepkg.Callbacks{
			OnStarted: func(loaded int, exceptions int64) {
				logger.Info("Node started", loggingpkg.LogFields{"services": loaded, "exceptions": exceptions})
			},
		},
	})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create node", err)
	}

	if registry != nil {
		metrics := rest.New(rest.Options{Address: rest.Address(conf.MetricsPort), Logger: logger})
		metrics.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		if err := metrics.Start(ctx); err != nil {
			return WrapExitError(ExitFailure, "failed to start metrics endpoint", err)
		}
		defer shutdown(logger, "metrics endpoint", metrics.Stop)
	}

	if err := node.SignInComplete(ctx, resp); err != nil {
		_ = node.Shutdown(context.Background())
		return WrapExitError(ExitFailure, "sign-in failed", err)
	}
	defer shutdown(logger, "node", node.Shutdown)

	fmt.Fprintf(cmd.OutOrStdout(), "Node %s running. Press Ctrl-C to stop.\n", conf.NodeName)
	<-ctx.Done()
	logger.Info("Shutting down", nil)
	return nil
}

func shutdown(logger loggingpkg.ServiceLogger, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Failed to stop "+what, err, nil)
	}
}
