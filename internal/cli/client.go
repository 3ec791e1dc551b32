package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/parsekit"
	"github.com/roach88/parsekit/internal/config"
)

// ClientFactory builds the client used by data commands.
type ClientFactory func(opts *RootOptions) (*parsekit.Client, error)

// DefaultClient loads opts.Config and builds a client against the
// configured server and cache.
func DefaultClient(opts *RootOptions) (*parsekit.Client, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	slog.Debug("config loaded", "path", opts.Config, "backend", cfg.Cache.Backend, "classes", len(cfg.Classes))
	return parsekit.New(cfg, parsekit.WithLogger(slog.Default()))
}

// configureLogging installs a text handler on w, at debug level in
// verbose mode.
func configureLogging(verbose bool, w io.Writer) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// withClient runs fn with a fresh client and a context cancelled on
// SIGINT/SIGTERM.
func withClient(opts *RootOptions, cmd *cobra.Command, fn func(context.Context, *parsekit.Client) error) error {
	configureLogging(opts.Verbose, cmd.ErrOrStderr())

	factory := opts.NewClient
	if factory == nil {
		factory = DefaultClient
	}
	client, err := factory(opts)
	if err != nil {
		return opts.formatter(cmd).Fail("failed to create client", err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			slog.Warn("close cache", "error", cerr)
		}
	}()

	ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, client)
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
