package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cityduel/pkg/channel/telegram"
	"cityduel/pkg/config"
	"cityduel/pkg/logger"
	"cityduel/pkg/service"

	"github.com/spf13/cobra"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot and the web leaderboard",
	Long:  "Polls Telegram for duel commands and serves the leaderboard page, the JSON API and the health endpoints.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args
		cmd.SilenceUsage = true

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.serve")

		transport, err := telegram.New(cfg.Token, cfg.PollTimeoutSeconds, appLogger)
		if err != nil {
			return fmt.Errorf("configure telegram transport: %w", err)
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := service.New(cfg, transport, appLogger)
		if err != nil {
			return fmt.Errorf("initialize service: %w", err)
		}

		log.Info("CityDuel started",
			"round_seconds", cfg.RoundSeconds,
			"web_address", fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port))

		if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Runtime failed", "error", err)
			return err
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (optional)")
}
