// Package cmd implements the verdict command line.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/verdict-cli/internal/config"
	"github.com/xkilldash9x/verdict-cli/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// flagKeys maps command line flags onto the configuration keys they override.
// Flags are only applied when the user set them, so config files and the
// environment keep their precedence over flag defaults.
var flagKeys = map[string]string{
	"engine":       "engine.name",
	"concurrency":  "engine.concurrency",
	"url":          "session.target_url",
	"format":       "report.format",
	"output":       "report.output",
	"fail-fast":    "session.fail_fast",
	"headless":     "browser.headless",
	"settle-delay": "session.settle_delay",
	"log-level":    "logger.level",
}

// NewRootCommand builds a fresh command tree. Every call returns an
// independent instance, so flag state never leaks between executions.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "verdict",
		Short:         "Verdict runs scripted UI verification sessions against a web application.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "verdict"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting verdict", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.SetVersionTemplate(`{{printf "verdict version %s\n" .Version}}`)

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the command tree with ctx, which main ties to SIGINT and SIGTERM.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err != nil {
		// A failed suite already printed its report.
		if !errors.Is(err, ErrRunFailed) {
			root.PrintErrln("Error:", err)
		}
		observability.GetLogger().Debug("Command execution failed", zap.Error(err))
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file, the VERDICT_ environment and the
// flags that were explicitly set into v.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			return fmt.Errorf("invalid config path %q: %w", cfgFile, err)
		}
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	config.BindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, f)
	})
	return bindErr
}

// configFromContext returns the configuration stored by PersistentPreRunE.
func configFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
