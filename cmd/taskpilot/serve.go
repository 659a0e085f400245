package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/taskpilot/internal/config"
	"github.com/jkaninda/taskpilot/internal/gateway"
	"github.com/jkaninda/taskpilot/internal/gateway/httpapi"
	"github.com/jkaninda/taskpilot/internal/gateway/ws"
	"github.com/jkaninda/taskpilot/internal/ratelimit"
)

// wsChatPath is where the WebSocket chat endpoint mounts on the HTTP listener.
const wsChatPath = "/v1/chat/ws"

var (
	serveConfigPath string
	serveListenAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the TaskPilot server (HTTP API and WebSocket chat)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `taskpilot --config path` and `taskpilot serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveListenAddr, "listen", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts the TaskPilot server: the HTTP API with the WebSocket
// chat endpoint mounted on the same listener.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("TASKPILOT_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if serveListenAddr != "" {
		cfg.Server.ListenAddr = serveListenAddr
	}

	logger.Info("starting server", slog.String("config", serveConfigPath))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw := buildGateway(cfg, sc)
	logger.Info("gateway configured",
		slog.String("addr", cfg.Server.Addr()),
		slog.Int("tools", len(sc.ToolReg.List())),
		slog.String("storage", sc.Store.Driver()),
	)

	// Start the gateway in a goroutine.
	errs := make(chan error, 1)
	go func(g gateway.Gateway) {
		errs <- g.Start(ctx)
	}(gw)

	// Wait for signal or gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping gateway", slog.String("error", err.Error()))
	}

	return nil
}

// buildGateway assembles the HTTP gateway with the WebSocket chat endpoint
// mounted on it. Both transports share one rate limiter, so a user's quota
// covers HTTP and WebSocket turns together.
func buildGateway(cfg *config.Config, sc *SharedComponents) gateway.Gateway {
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.RateLimit.BurstSize,
	})

	wsServer := ws.NewServer(sc.AgentCore, cfg.Server.APIKeys, limiter, sc.Logger)
	if sc.Obs != nil && sc.Obs.Metrics != nil {
		wsServer.WithMetrics(sc.Obs.Metrics)
	}

	httpCfg := httpapi.Config{
		ListenAddr:     cfg.Server.Addr(),
		EnableDocs:     cfg.Server.EnableDocs,
		APIKeys:        cfg.Server.APIKeys,
		MaxRequestSize: cfg.Server.MaxRequestSizeBytes,
	}
	if sc.Obs != nil {
		httpCfg.Metrics = sc.Obs.Metrics
		httpCfg.HealthChecker = sc.Obs.Health
		if sc.Obs.Metrics != nil {
			httpCfg.MetricsRegistry = sc.Obs.Metrics.Registry
		}
		if sc.Obs.Tracer != nil {
			httpCfg.Tracer = sc.Obs.Tracer.Tracer()
		}
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			httpCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}

	httpGW := httpapi.NewGateway(httpCfg, sc.AgentCore, sc.Store.Conversations(), limiter, sc.Logger)
	httpGW.WithHandler(wsChatPath, wsServer.Handler())
	sc.Logger.Debug("websocket chat endpoint mounted", slog.String("path", wsChatPath))

	return httpGW
}
