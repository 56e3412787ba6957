// Package app assembles the service from configuration: metrics, transcript
// store, arbiter and token clients, engine factory, session registry and the
// HTTP API.
package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/inteliventa/entrenador/internal/arbiter"
	"github.com/inteliventa/entrenador/internal/config"
	"github.com/inteliventa/entrenador/internal/engine"
	"github.com/inteliventa/entrenador/internal/history"
	"github.com/inteliventa/entrenador/internal/httpapi"
	"github.com/inteliventa/entrenador/internal/observability"
	"github.com/inteliventa/entrenador/internal/service"
	"github.com/inteliventa/entrenador/internal/session"
	"github.com/inteliventa/entrenador/internal/token"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Service  *service.Service
	Metrics  *observability.Metrics

	// EngineMode is the resolved mode after auto-detection.
	EngineMode string

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*BuildResult, error) {
	if log == nil {
		log = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	arb := arbiter.NewClient(cfg.ArbiterWebhookURL)
	tokens := token.NewClient(cfg.EngineAPIURL, cfg.EngineAPIKey)

	engines, mode, err := resolveEngineFactory(cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	log.Info("engine mode resolved", zap.String("mode", mode))

	sessions := session.NewManager(cfg.SessionInactivityTimeout)

	svc := service.New(service.Options{
		Config:   cfg,
		Logger:   log,
		Metrics:  metrics,
		Sessions: sessions,
		Prober:   arb,
		Decider:  arb,
		Notifier: arb,
		Tokens:   tokens,
		Engines:  engines,
		History:  store,
	})

	api := httpapi.New(cfg, log, svc, metrics)

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Sessions:   sessions,
		Service:    svc,
		Metrics:    metrics,
		EngineMode: mode,
		Cleanup:    store.Close,
	}, nil
}

// resolveEngineFactory picks the engine implementation. auto falls back to
// the mock engine when no vendor API key is configured, which keeps local
// development working without credentials.
func resolveEngineFactory(cfg config.Config, log *zap.Logger) (service.EngineFactory, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.EngineMode))
	if mode == "" || mode == "auto" {
		if strings.TrimSpace(cfg.EngineAPIKey) == "" {
			mode = "mock"
		} else {
			mode = "remote"
		}
	}

	switch mode {
	case "remote":
		if strings.TrimSpace(cfg.EngineAPIKey) == "" {
			return nil, "", fmt.Errorf("ENGINE_MODE=remote requires ENGINE_API_KEY")
		}
		factory := func(creds token.Credentials) engine.Handle {
			return engine.NewRemote(creds.SessionToken, engine.RemoteConfig{
				APIURL:    cfg.EngineAPIURL,
				VoiceChat: true,
				Logger:    log,
			})
		}
		return factory, mode, nil
	case "mock":
		factory := func(_ token.Credentials) engine.Handle {
			return engine.NewMock()
		}
		return factory, mode, nil
	default:
		return nil, "", fmt.Errorf("invalid ENGINE_MODE: %q (expected auto|remote|mock)", cfg.EngineMode)
	}
}
