package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/convosync/internal/config"
	applog "github.com/vovakirdan/convosync/internal/log"
)

var (
	version = "dev"
	commit  = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "convosync",
	Short: "Real-time conversation sync: reference backend and terminal client",
	Long: `convosync runs the reference messaging backend (REST API plus socket
relay) and a terminal client built on the synchronization core.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
}

// loadConfig resolves configuration and builds the logger for a command.
// Terminal commands log to stderr so stdout stays readable.
func loadConfig(cmd *cobra.Command) (config.Config, *zerolog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")

	boot := applog.New("warn", applog.WithOutput(os.Stderr))
	cfg, resolved, err := config.Load(boot, path)
	if err != nil {
		return cfg, boot, err
	}
	if level != "" {
		cfg.LogLevel = level
	}

	logger := applog.New(cfg.LogLevel, applog.WithOutput(os.Stderr))
	logger.Debug().Str("config", resolved).Msg("configuration loaded")
	return cfg, logger, nil
}
