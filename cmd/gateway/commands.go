package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vyrodovalexey/avadispatch/internal/config"
	"github.com/vyrodovalexey/avadispatch/internal/observability"
)

// Environment variables consulted for flag defaults.
const (
	envConfigPath = "GATEWAY_CONFIG_PATH"
	envLogLevel   = "GATEWAY_LOG_LEVEL"
	envLogFormat  = "GATEWAY_LOG_FORMAT"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}

	root := &cobra.Command{
		Use:           "avadispatch",
		Short:         "Multi-protocol API gateway dispatching to REST, GraphQL and gRPC backends",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config",
		getEnvOrDefault(envConfigPath, "configs/gateway.yaml"), "Path to configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level",
		getEnvOrDefault(envLogLevel, ""), "Log level (debug, info, warn, error); overrides the file")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format",
		getEnvOrDefault(envLogFormat, ""), "Log format (json, console); overrides the file")

	root.AddCommand(newServeCmd(flags), newValidateCmd(flags), newVersionCmd())
	return root
}

func newServeCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, flags)
		},
	}
}

func newValidateCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration file, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(flags.configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration %s is valid: %d services\n", path, len(cfg.Services))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "avadispatch version %s\n", version)
			fmt.Fprintf(out, "  Build time: %s\n", buildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", gitCommit)
		},
	}
}

// loadConfig resolves, loads and validates the configuration file.
func loadConfig(path string) (*config.GatewayConfig, string, error) {
	resolved, err := config.ResolveConfigPath(path)
	if err != nil {
		return nil, path, err
	}
	cfg, err := config.LoadConfig(resolved)
	if err != nil {
		return nil, resolved, err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, resolved, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, resolved, nil
}

// initLogger builds the process logger. Flags win over the file.
func initLogger(flags *cliFlags, cfg config.LoggingConfig) (observability.Logger, error) {
	logCfg := observability.LogConfig{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: cfg.Output,
	}
	if flags.logLevel != "" {
		logCfg.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		logCfg.Format = flags.logFormat
	}

	logger, err := observability.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func serve(ctx context.Context, flags *cliFlags) error {
	cfg, path, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}

	logger, err := initLogger(flags, cfg.Observability.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting avadispatch",
		observability.String("version", version),
		observability.String("config", path),
		observability.Int("services", len(cfg.Services)),
	)

	app, err := newApplication(cfg, logger)
	if err != nil {
		return err
	}
	return app.run(ctx, path)
}
