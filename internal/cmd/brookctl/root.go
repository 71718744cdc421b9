package brookctl

import (
	"fmt"

	"github.com/spf13/cobra"

	cfgpkg "github.com/rzbill/brook/internal/config"
	"github.com/rzbill/brook/internal/runtime"
	logpkg "github.com/rzbill/brook/pkg/log"
)

// NewRoot constructs the root Cobra command with every subcommand registered.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "brook",
		Short:         "Brook event log CLI",
		Long:          "Brook is an append-only, per-key event log. This CLI appends, reads and recovers brooks in a local data directory.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("config", "", "Config file (.json, .yaml or .yml)")
	root.PersistentFlags().String("data-dir", "", "Data directory (overrides config; default is the OS application data directory)")
	root.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error")
	root.PersistentFlags().String("log-format", "", "Log format: text|json")

	root.AddCommand(
		newAppendCommand(),
		newReadCommand(),
		newHeadCommand(),
		newRecoverCommand(),
		newConfigCommand(),
	)
	return root
}

// loadConfig resolves file, environment and flag settings, in that order.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, err
	}
	cfgpkg.FromEnv(&cfg)
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if cfg.DataDir == "" {
		cfg.DataDir = cfg.ResolvedDataDir()
	}
	if err := cfg.Validate(); err != nil {
		return cfgpkg.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// withRuntime opens the runtime for the duration of fn.
func withRuntime(cmd *cobra.Command, fn func(*runtime.Runtime) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logpkg.ApplyConfig(&cfg.Log)
	if err != nil {
		return err
	}
	// Pebble logs through the standard library logger.
	logpkg.RedirectStdLog(logger)

	rt, err := runtime.Open(cmd.Context(), runtime.Options{Config: cfg, Logger: logger.WithComponent("runtime")})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			logger.Warn("close runtime", logpkg.Err(cerr))
		}
	}()
	return fn(rt)
}
