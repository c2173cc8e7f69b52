package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/convosync/internal/app"
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "HTTP listen address")
	serveCmd.Flags().String("db", "", "SQLite database path")
	serveCmd.Flags().Duration("shutdown-timeout", 0, "graceful shutdown timeout")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		if db, _ := cmd.Flags().GetString("db"); db != "" {
			cfg.Server.DatabasePath = db
		}
		if timeout, _ := cmd.Flags().GetDuration("shutdown-timeout"); timeout > 0 {
			cfg.Server.ShutdownTimeout = timeout
		}
		if cfg.Server.JWTSecret == "change-me" {
			logger.Warn().Msg("using the default jwt secret; set CONVOSYNC_SERVER_JWT_SECRET")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		application, err := app.New(cfg.Server, logger)
		if err != nil {
			return err
		}

		logger.Info().Str("addr", cfg.Server.Addr).Str("version", version).Msg("starting convosync backend")
		if err := application.Run(ctx); err != nil {
			return err
		}
		logger.Info().Msg("server stopped")
		return nil
	},
}
