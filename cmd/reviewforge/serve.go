package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	rfhttp "github.com/Strob0t/ReviewForge/internal/adapter/http"
	rfmcp "github.com/Strob0t/ReviewForge/internal/adapter/mcp"
	rfotel "github.com/Strob0t/ReviewForge/internal/adapter/otel"
	"github.com/Strob0t/ReviewForge/internal/adapter/ws"
	"github.com/Strob0t/ReviewForge/internal/config"
	"github.com/Strob0t/ReviewForge/internal/middleware"
	"github.com/Strob0t/ReviewForge/internal/resilience"
)

const version = "0.1.0"

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the review API, websocket events and the MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), c.cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"actionlog", cfg.ActionLog.Backend,
		"nats", cfg.NATS.Enabled,
	)

	shutdownOTEL, err := rfotel.Init(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	hub := ws.NewHub(originPatterns(cfg.Server.CORSOrigin))
	defer hub.Close()

	a, err := newApp(ctx, cfg, hub)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.assignment.Run(ctx)

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	replay, err := a.replayStore(ctx)
	if err != nil {
		return fmt.Errorf("idempotency store: %w", err)
	}

	opts := rfhttp.RouterOptions{
		CORSOrigin:  cfg.Server.CORSOrigin,
		Identity:    cfg.Identity,
		Timeout:     30 * time.Second,
		RateLimiter: limiter,
		Replay:      replay,
		ReplayTTL:   cfg.Idempotency.TTL,
		Health:      healthHandler(a, hub),
		WebSocket:   hub.HandleWS,
	}
	if cfg.OTEL.Enabled {
		opts.ServiceName = cfg.OTEL.ServiceName
	}
	router := rfhttp.NewRouter(&rfhttp.Handlers{
		Actions:     a.actions,
		Consensus:   a.consensus,
		Arbitration: a.arbitration,
		Assignment:  a.assignment,
		Documents:   a.docs,
	}, opts)

	if cfg.MCP.Enabled {
		mcpSrv := rfmcp.NewServer(rfmcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    "reviewforge",
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		}, rfmcp.ServerDeps{
			Consensus:   a.consensus,
			Arbitration: a.arbitration,
			Locks:       a.assignment,
		})
		if err := mcpSrv.Start(); err != nil {
			return err
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			_ = mcpSrv.Stop(sctx)
		}()
	}

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	return srv.Shutdown(shutdownCtx)
}

// originPatterns turns the CORS origin into a websocket origin pattern.
func originPatterns(origin string) []string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

// healthHandler reports the state of the action log and the event bus.
func healthHandler(a *app, hub *ws.Hub) http.HandlerFunc {
	type healthStatus struct {
		Status      string `json:"status"`
		ActionLog   string `json:"action_log"`
		Breaker     string `json:"breaker"`
		NATS        string `json:"nats"`
		Connections int    `json:"ws_connections"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status:      "ok",
			ActionLog:   a.cfg.ActionLog.Backend,
			Breaker:     a.breaker.State().String(),
			NATS:        "disabled",
			Connections: hub.ConnectionCount(),
		}
		if a.nats != nil {
			status.NATS = "connected"
			if !a.nats.IsConnected() {
				status.NATS = "disconnected"
				status.Status = "degraded"
			}
		}
		code := http.StatusOK
		if a.breaker.State() == resilience.StateOpen {
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
