// Command receptionist runs the AI phone receptionist server: it bridges
// telephony media WebSockets to a realtime voice model and runs the
// post-call analysis and notification pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SandilyaSub/Receptionist/internal/app"
	"github.com/SandilyaSub/Receptionist/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	host := flag.String("host", "", "listen host override")
	port := flag.String("port", "", "listen port override")
	basePath := flag.String("path", "", "media WebSocket mount path override")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "receptionist: %v\n", err)
		return 1
	}
	applyFlagOverrides(cfg, *host, *port, *basePath)

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can change it without
	// rebuilding the handler.
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("receptionist starting",
		"version", app.Version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Config watcher (optional) ─────────────────────────────────────────────
	// Only the log level is hot-reloadable; everything else is wired at
	// startup and needs a restart.
	if _, statErr := os.Stat(*configPath); statErr == nil {
		w, werr := config.NewWatcher(*configPath, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.LogLevelChanged {
				level.Set(d.NewLogLevel.SlogLevel())
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if d.SessionChanged || d.OwnerPhoneChanged {
				slog.Warn("config changed fields that require a restart to apply")
			}
		})
		if werr != nil {
			slog.Warn("config watcher disabled", "err", werr)
		} else {
			defer w.Stop()
		}
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyFlagOverrides lets -host/-port/-path win over the config file and the
// environment. An empty flag leaves the config value alone.
func applyFlagOverrides(cfg *config.Config, host, port, basePath string) {
	if host != "" || port != "" {
		curHost, curPort, err := net.SplitHostPort(cfg.Server.ListenAddr)
		if err != nil {
			curHost, curPort = "", "8080"
		}
		if host != "" {
			curHost = host
		}
		if port != "" {
			curPort = port
		}
		cfg.Server.ListenAddr = net.JoinHostPort(curHost, curPort)
	}
	if basePath != "" {
		cfg.Server.BasePath = basePath
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      Receptionist — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Media path", orDefault(cfg.Server.BasePath, "/media"))
	printRow("Live model", orDefault(cfg.Model.Name, "(provider default)"))
	printRow("Analysis", orDefault(cfg.Analysis.Provider, "gemini"))
	printRow("Database", enabledIf(cfg.Database.URL != ""))
	printRow("Telephony", enabledIf(cfg.Telephony.APIKey != ""))
	printRow("WhatsApp", enabledIf(cfg.Notify.MSG91AuthKey != ""))
	printRow("TLS", enabledIf(cfg.Server.TLS != nil))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func enabledIf(on bool) string {
	if on {
		return "enabled"
	}
	return "(disabled)"
}
