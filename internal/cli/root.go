// Package cli assembles the dsg command-line tool on top of
// internal/lifecycle: flag parsing and config resolution only, no
// sync logic of its own — mirroring the teacher's root.go split
// between cobra wiring and the engine it drives.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hrdag/dsg/internal/config"
	"github.com/hrdag/dsg/internal/plan"
)

// version is set at build time via ldflags.
var version = "dev"

// Exit codes required by the specification's CLI collaborator
// contract: 0 success, 2 validation/config error, 3 conflicts block
// sync, 4 transport/remote error, 5 internal/unexpected.
const (
	ExitOK               = 0
	ExitConfigError      = 2
	ExitConflictsPresent = 3
	ExitTransportError   = 4
	ExitInternal         = 5
)

// CLIFlags holds the persistent flags bound in NewRootCmd.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Debug      bool
	Quiet      bool
}

var flags CLIFlags

// skipConfigAnnotation marks commands that do not need a resolved
// repository config before running.
const skipConfigAnnotation = "skipConfig"

// cliContextKey is the context key under which the resolved
// CLIContext is stored for subcommands.
type cliContextKey struct{}

// CLIContext bundles the resolved configuration and logger built once
// in PersistentPreRunE, so RunE handlers never re-resolve either.
type CLIContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — command must not carry skipConfigAnnotation")
	}

	return cc
}

// NewRootCmd builds the fully assembled dsg command tree. Called once
// from cmd/dsg/main.go.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dsg",
		Short:         "Data Sync Gizmo",
		Long:          "dsg reconciles a local working tree against a cached baseline and a remote repository using three-way manifest comparison.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config.toml")
	cmd.PersistentFlags().BoolVar(&flags.JSON, "json", false, "emit machine-readable JSON output")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "info-level logging")
	cmd.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "debug-level logging")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "error-level logging only")
	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newCloneCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLogCmd())
	cmd.AddCommand(newBlameCmd())

	return cmd
}

// loadConfig resolves the four-layer configuration chain and stores
// the result, along with a logger built from it, on the command's
// context for subcommands to retrieve via mustCLIContext.
func loadConfig(cmd *cobra.Command) error {
	logger := buildLogger(nil, flags)

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("cli: %w", err)
	}

	metaDir := wd + "/.dsg"

	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	path := config.ResolveConfigPath(metaDir, env, cli)

	logger.Debug("resolving config", slog.String("path", path))

	cfg, err := config.Load(path, env, cli)
	if err != nil {
		return &cliError{code: ExitConfigError, err: err}
	}

	finalLogger := buildLogger(cfg, flags)

	cc := &CLIContext{Cfg: cfg, Logger: finalLogger}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger constructs the process logger. Pass a nil config for
// the pre-config bootstrap logger; flags always take precedence over
// the config file's log_level since they are the outermost layer of
// the override chain.
func buildLogger(cfg *config.Config, flags CLIFlags) *slog.Logger {
	level := slog.LevelWarn

	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	switch {
	case flags.Debug:
		level = slog.LevelDebug
	case flags.Verbose:
		level = slog.LevelInfo
	case flags.Quiet:
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// cliError carries the exit code a command's failure should produce,
// alongside the underlying error for display.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

// exitCodeFor maps an error returned from Execute to the
// specification's exit-code contract.
func exitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}

	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}

	if errors.Is(err, plan.ErrConflictsPresent) {
		return ExitConflictsPresent
	}

	return ExitInternal
}

// Execute runs the dsg CLI and returns the process exit code.
func Execute() int {
	cmd := NewRootCmd()

	err := cmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	return exitCodeFor(err)
}
