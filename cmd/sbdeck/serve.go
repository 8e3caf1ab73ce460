package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/config"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/secrets"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/server"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/session"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/status"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var apiPort, metricsPort, healthPort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep a session open and serve the HTTP control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			cfg, logger, err := opts.load(cmd, func(cfg *config.Config) {
				if flags.Changed("api-port") {
					cfg.APIPort = apiPort
				}
				if flags.Changed("metrics-port") {
					cfg.MetricsPort = metricsPort
				}
				if flags.Changed("health-port") {
					cfg.HealthPort = healthPort
				}
			})
			if err != nil {
				return err
			}

			logger.Info().
				Str("version", version).
				Str("git_commit", gitCommit).
				Str("build_date", buildDate).
				Msg("Starting sbdeck")

			logger.Info().
				Str("host", cfg.Host).
				Int("port", cfg.Port).
				Str("endpoint", cfg.Endpoint).
				Bool("password", cfg.Password != "" || cfg.PasswordSecret != "").
				Dur("request_timeout", cfg.RequestTimeout).
				Dur("reconnect_delay", cfg.ReconnectDelay).
				Msg("Configuration loaded")

			// Create context with cancellation
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// Handle signals for graceful shutdown
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			go func() {
				select {
				case sig := <-sigChan:
					logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
					cancel()
				case <-ctx.Done():
				}
			}()

			pw, err := loadPassword(ctx, cfg, logger)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to load password")
				return err
			}

			sess := session.New(clientOptions(cfg, pw.value), cfg.ReconnectDelay, status.NewIndicator(logger), logger)

			if pw.ref != nil {
				watcher := secrets.NewWatcher(pw.client, *pw.ref, pw.value, 0, logger)
				go func() {
					if err := watcher.Run(ctx, sess.SetPassword); err != nil && !errors.Is(err, context.Canceled) {
						logger.Error().Err(err).Msg("Secret watcher stopped")
					}
				}()
			}

			metricsServer := server.Start("metrics", cfg.MetricsPort, server.MetricsHandler(), logger)
			defer server.Shutdown("metrics", metricsServer, logger)

			healthServer := server.Start("health", cfg.HealthPort, server.HealthHandler(sess.IsConnected), logger)
			defer server.Shutdown("health", healthServer, logger)

			apiServer := server.Start("api", cfg.APIPort, server.NewAPI(sess, logger).Handler(), logger)
			defer server.Shutdown("api", apiServer, logger)

			logger.Info().Msg("Session initialized, starting connection loop")

			if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("Session error")
				return err
			}

			logger.Info().Msg("Shutdown complete")
			return nil
		},
	}

	cmd.Flags().IntVar(&apiPort, "api-port", 0, "HTTP control API port (overrides API_PORT, default 8090)")
	cmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "Prometheus metrics port (overrides METRICS_PORT, default 9090)")
	cmd.Flags().IntVar(&healthPort, "health-port", 0, "Health probe port (overrides HEALTH_PORT, default 8091)")
	return cmd
}
