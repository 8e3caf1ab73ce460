package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/config"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/secrets"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/status"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/streamerbot"
	"k8s.io/client-go/kubernetes"
)

// passwordSource is the resolved password and, when it came from a
// Secret, what is needed to watch that Secret.
type passwordSource struct {
	value  string
	client kubernetes.Interface
	ref    *secrets.Ref
}

func loadPassword(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*passwordSource, error) {
	if cfg.PasswordSecret == "" {
		return &passwordSource{value: cfg.Password}, nil
	}

	ref, err := secrets.ParseRef(cfg.PasswordSecret)
	if err != nil {
		return nil, err
	}
	client, err := secrets.NewClientset(cfg.Kubeconfig, cfg.InCluster)
	if err != nil {
		return nil, err
	}
	value, err := secrets.Password(ctx, client, ref)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("secret", ref.String()).Msg("Password loaded from secret")
	return &passwordSource{value: value, client: client, ref: &ref}, nil
}

func clientOptions(cfg *config.Config, password string) streamerbot.Options {
	return streamerbot.Options{
		Host:           cfg.Host,
		Port:           cfg.Port,
		Endpoint:       cfg.Endpoint,
		Scheme:         cfg.Scheme(),
		Password:       password,
		RequestTimeout: cfg.RequestTimeout,
	}
}

// connect opens a one-shot client with its status mirrored into the log
func connect(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*streamerbot.Client, error) {
	pw, err := loadPassword(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	client := streamerbot.NewClient(clientOptions(cfg, pw.value), logger)
	status.NewIndicator(logger).Mirror(client)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", clientOptions(cfg, "").URL(), err)
	}
	return client, nil
}
