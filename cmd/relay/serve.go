package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ai-gateway/avatar-relay/internal/config"
	"github.com/ai-gateway/avatar-relay/internal/credentials"
	"github.com/ai-gateway/avatar-relay/internal/logger"
	"github.com/ai-gateway/avatar-relay/internal/metrics"
	"github.com/ai-gateway/avatar-relay/internal/observability"
	"github.com/ai-gateway/avatar-relay/internal/prompt"
	"github.com/ai-gateway/avatar-relay/internal/provider"
	"github.com/ai-gateway/avatar-relay/internal/provider/echo"
	"github.com/ai-gateway/avatar-relay/internal/provider/gemini"
	"github.com/ai-gateway/avatar-relay/internal/routing"
	"github.com/ai-gateway/avatar-relay/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat relay (POST /api/chat)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile, envFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)

	pool, err := credentials.NewPool(cfg.APIKeys)
	if err != nil {
		logger.L.Error("no API keys found; set API_KEY_1..API_KEY_3 or API_KEY", "error", err)
		return err
	}
	logger.L.Info("credential pool loaded", "size", pool.Size())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TelemetryURL != "" {
		tp, err := observability.Setup(ctx, cfg.TelemetryURL)
		if err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.L.Warn("tracer shutdown", "error", err)
			}
		}()
	}

	up, err := newProvider(cfg.Provider)
	if err != nil {
		return err
	}
	prompts, err := prompt.New(cfg.Assistant.Name, cfg.Assistant.Creator, cfg.Assistant.Timezone)
	if err != nil {
		return err
	}

	stats := metrics.NewRotation()
	rt := routing.New(pool, up,
		routing.WithPrompt(prompts.Build),
		routing.WithHistoryWindow(cfg.Relay.HistoryWindow),
		routing.WithAttemptTimeout(cfg.Relay.AttemptTimeout),
		routing.WithMetrics(stats),
	)

	err = server.New(cfg.ListenAddr(), rt, stats).Start(ctx)
	logger.L.Info("relay stopped", "rotation", stats.Snapshot())
	return err
}

// newProvider picks the upstream implementation named in the config.
func newProvider(cfg config.ProviderConfig) (provider.Provider, error) {
	switch cfg.Name {
	case "", "gemini":
		return gemini.New(gemini.Config{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		}), nil
	case "echo":
		return echo.New(), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", cfg.Name)
	}
}
