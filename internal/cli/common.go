package cli

import (
	"io"
	"log/slog"

	configpkg "github.com/drblury/edgeflow/internal/runtime/config"
	loggingpkg "github.com/drblury/edgeflow/internal/runtime/logging"
)

// loadConfig reads the node config and validates it.
func loadConfig(opts *RootOptions) (*configpkg.Config, error) {
	conf, err := configpkg.LoadFile(opts.ConfigFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Verbose {
		conf.Debug = true
	}
	if err := conf.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return conf, nil
}

func newLogger(w io.Writer, verbose bool) (*slog.Logger, loggingpkg.ServiceLogger) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	base := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return base, loggingpkg.NewSlogServiceLogger(base)
}
