// Command alertcore runs the soccer alert evaluation core and exposes a
// small operational CLI over its control surface.
//
// Usage:
//
//	alertcore serve
//	alertcore reload-alerts
//	alertcore force-poll
//	alertcore stats
//
// @title Alert Core Control Surface
// @version 1.0.0
// @description Operational control surface for the soccer alert evaluation core: start/stop, reload-alerts, force-poll-now, get-stats.
// @host localhost:8000
// @BasePath /
// @schemes http
// @contact.name soccerops
// @license.name MIT
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/soccerops/alertcore/internal/config"
	"github.com/soccerops/alertcore/internal/db"
	"github.com/soccerops/alertcore/internal/engine"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	_ = godotenv.Load(".env")

	var controlURL string

	root := &cobra.Command{
		Use:   "alertcore",
		Short: "Soccer alert evaluation core",
	}
	root.PersistentFlags().StringVar(&controlURL, "control-url", envOr("ALERTCORE_CONTROL_URL", ""), "base URL of a running alertcore's control surface (defaults to http://API_HOST:API_PORT)")

	root.AddCommand(serveCmd())
	root.AddCommand(controlCmd("reload-alerts", "POST", "/control/reload-alerts", &controlURL))
	root.AddCommand(controlCmd("force-poll", "POST", "/control/force-poll", &controlURL))
	root.AddCommand(controlCmd("stats", "GET", "/control/stats", &controlURL))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// serve command
// --------------------------------------------------------------------------

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion, evaluation, and dispatch loops behind the control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			logger.Info("connecting to database...")
			pool, err := db.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer pool.Close()
			logger.Info("database connected", "min_conns", cfg.DBPoolMinConns, "max_conns", cfg.DBPoolMaxConns)

			// SMS/Email transports are deployment-specific and wired by the
			// embedding service. The channels still run: a nil transport
			// reports a permanent per-delivery failure rather than
			// panicking, per internal/channels' nil-safe contract.
			eng := engine.New(cfg, pool, engine.Channels{}, logger)

			// The engine gets its own lifetime context: tying it to the
			// signal context would abort in-flight fetches the instant
			// Ctrl-C arrives, instead of letting Stop drain them within
			// its grace window.
			if err := eng.Start(context.Background()); err != nil {
				return fmt.Errorf("start engine: %w", err)
			}

			router := engine.NewRouter(eng, cfg)
			addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
			srv := &http.Server{
				Addr:         addr,
				Handler:      router,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			go func() {
				logger.Info("control surface listening", "addr", addr, "environment", cfg.Environment)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("control surface failed", "error", err)
					os.Exit(1)
				}
			}()

			<-ctx.Done()
			logger.Info("shutting down...")

			eng.Stop()
			eng.Close()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("control surface shutdown error", "error", err)
			}
			logger.Info("stopped")
			return nil
		},
	}
}

// --------------------------------------------------------------------------
// thin HTTP-client subcommands over a running serve instance's control surface
// --------------------------------------------------------------------------

func controlCmd(use, method, path string, controlURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Call %s on a running alertcore's control surface", path),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := *controlURL
			if base == "" {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("resolve control surface address: %w (set --control-url explicitly)", err)
				}
				base = fmt.Sprintf("http://%s:%d", loopbackHost(cfg.APIHost), cfg.APIPort)
			}

			req, err := http.NewRequestWithContext(cmd.Context(), method, base+path, nil)
			if err != nil {
				return fmt.Errorf("build request: %w", err)
			}

			client := &http.Client{Timeout: 30 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("call %s: %w", path, err)
			}
			defer resp.Body.Close()

			var buf bytes.Buffer
			if _, err := io.Copy(&buf, resp.Body); err != nil {
				return fmt.Errorf("read response: %w", err)
			}

			var pretty bytes.Buffer
			if json.Indent(&pretty, buf.Bytes(), "", "  ") == nil {
				fmt.Println(pretty.String())
			} else {
				fmt.Println(buf.String())
			}

			if resp.StatusCode >= 400 {
				return fmt.Errorf("%s returned %s", path, resp.Status)
			}
			return nil
		},
	}
}

func loopbackHost(host string) string {
	if host == "0.0.0.0" || host == "" {
		return "localhost"
	}
	return host
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
