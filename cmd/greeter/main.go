// Command greeter is the main entry point for the store greeter voice
// assistant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/baominh/greeter/internal/app"
	"github.com/baominh/greeter/internal/config"
	"github.com/baominh/greeter/internal/health"
	"github.com/baominh/greeter/internal/observe"
	"github.com/baominh/greeter/pkg/provider/live"
	"github.com/baominh/greeter/pkg/provider/live/gemini"
	"github.com/baominh/greeter/pkg/provider/live/openai"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "greeter.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "greeter: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "greeter: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("greeter starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "greeter",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, err := reg.CreateLive(cfg.Provider)
	if err != nil {
		slog.Error("failed to create live provider", "name", cfg.Provider.Name, "err", err)
		return 1
	}
	slog.Info("provider created", "name", cfg.Provider.Name)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, &app.Providers{Live: provider})
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Admin endpoint: health + metrics ──────────────────────────────────────
	admin := startAdminServer(cfg.Server.ListenAddr, application)

	slog.Info("greeter ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")

	if err := admin.Shutdown(shutdownCtx); err != nil {
		slog.Warn("admin server shutdown error", "err", err)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the live provider factories that ship with
// the greeter into reg. API keys left empty in the config fall back to the
// provider's conventional environment variable.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (live.Provider, error) {
		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini-live requires provider.api_key or GEMINI_API_KEY")
		}
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(apiKey, opts...), nil
	})

	reg.RegisterLive("openai-realtime", func(entry config.ProviderEntry) (live.Provider, error) {
		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("openai-realtime requires provider.api_key or OPENAI_API_KEY")
		}
		var opts []openai.Option
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(apiKey, opts...), nil
	})
}

// ── Admin server ──────────────────────────────────────────────────────────────

// startAdminServer serves /healthz, /readyz, and /metrics on addr. The
// returned server must be shut down by the caller.
func startAdminServer(addr string, application *app.App) *http.Server {
	mux := http.NewServeMux()
	health.New(application.HealthCheckers()...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin server error", "err", err)
		}
	}()
	slog.Info("admin endpoint listening", "addr", addr)
	return srv
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Greeter startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Provider", providerSummary(cfg.Provider))
	printRow("Voice", cfg.Provider.Voice)
	printRow("Catalog", orDisabled(cfg.Catalog.Path))
	printRow("Transcripts", storeSummary(cfg.Transcripts))
	printRow("Camera", cameraSummary(cfg.Camera))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

func providerSummary(p config.ProviderEntry) string {
	if p.Model != "" {
		return p.Name + " / " + p.Model
	}
	return p.Name
}

func orDisabled(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}

func storeSummary(t config.TranscriptsConfig) string {
	if t.PostgresDSN == "" {
		return "in-memory"
	}
	return "postgres"
}

func cameraSummary(c config.CameraConfig) string {
	if !c.Enabled {
		return "(disabled)"
	}
	return c.SnapshotURL
}
