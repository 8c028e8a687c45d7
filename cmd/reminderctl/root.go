package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"volunteerreminder/internal/app"
	"volunteerreminder/internal/config"
	"volunteerreminder/internal/service"
	pkgconfig "volunteerreminder/pkg/config"
	"volunteerreminder/pkg/logger"
)

// RootOptions holds the global flags.
type RootOptions struct {
	ConfigDir string
	Env       string
	LogLevel  string
	JSON      bool

	// Build overrides service construction in tests.
	Build func(ctx context.Context, opts *RootOptions, log *zap.Logger) (*service.Runner, func(), error)
	// Check overrides the capability check in tests.
	Check func(ctx context.Context, opts *RootOptions, log *zap.Logger) error
}

// NewRootCommand creates the reminderctl command tree.
func NewRootCommand(opts *RootOptions) *cobra.Command {
	if opts.Build == nil {
		opts.Build = buildRunner
	}
	if opts.Check == nil {
		opts.Check = checkBackends
	}

	cmd := &cobra.Command{
		Use:   "reminderctl",
		Short: "Run volunteer reminder jobs once",
		Long: `Run volunteer reminder jobs once and exit.

The exit status is non-zero when the run aborted or any item failed, so a
scheduler can alert on it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigDir, "config-dir", pkgconfig.GetEnv("CONFIG_DIR", "config"), "directory holding base.yaml and <env>.yaml")
	cmd.PersistentFlags().StringVar(&opts.Env, "env", pkgconfig.GetConfigEnv(), "config environment")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (overrides config)")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print the summary as JSON")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	return cmd
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.LoadFrom(opts.Env, opts.ConfigDir)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	return cfg, nil
}

func newLogger(opts *RootOptions) *zap.Logger {
	level := opts.LogLevel
	if level == "" {
		level = pkgconfig.GetEnv("LOG_LEVEL", "info")
	}
	return logger.NewLogger(level)
}

func buildRunner(ctx context.Context, opts *RootOptions, log *zap.Logger) (*service.Runner, func(), error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, true, log)
	if err != nil {
		return nil, nil, err
	}
	return a.Runner, a.Close, nil
}

// checkBackends builds the full service, which connects to the store and
// runs the ledger capability check, and then tears it down.
func checkBackends(ctx context.Context, opts *RootOptions, log *zap.Logger) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, false, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Repo.Ping(ctx)
}
