package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ent0n29/taskibot/internal/app"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket chat and Telegram channel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); strings.TrimSpace(addr) != "" {
				cfg.BindAddr = strings.TrimSpace(addr)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			built, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			built.Sessions.StartJanitor(ctx, cfg.JanitorInterval)

			httpServer := &http.Server{
				Addr:    cfg.BindAddr,
				Handler: built.API.Router(),
			}
			serveErr := make(chan error, 1)
			go func() {
				logger.Info("server_listening", "addr", cfg.BindAddr, "backend_mode", built.BackendMode, "telegram_mode", cfg.TelegramMode)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
			}()

			if built.Telegram != nil {
				go func() {
					if err := built.StartTelegram(ctx); err != nil && !errors.Is(err, context.Canceled) {
						logger.Error("telegram_channel_failed", "mode", cfg.TelegramMode, "error", err.Error())
					}
				}()
			} else if cfg.TelegramMode != "off" {
				logger.Warn("telegram_disabled", "reason", "TELEGRAM_BOT_TOKEN is not set")
			}

			var runErr error
			select {
			case <-ctx.Done():
				logger.Info("shutdown_signal_received")
			case runErr = <-serveErr:
				logger.Error("listen_failed", "error", runErr.Error())
			}
			stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("graceful_shutdown_failed", "error", err.Error())
				_ = httpServer.Close()
			}
			if err := built.Cleanup(shutdownCtx); err != nil {
				logger.Warn("cleanup_failed", "error", err.Error())
			}
			logger.Info("shutdown_complete")
			return runErr
		},
	}
	cmd.Flags().String("addr", "", "Listen address, overrides APP_BIND_ADDR.")
	return cmd
}
