// Command markd is a watermarking proxy for chat-completions APIs.
//
// It sits between clients and an upstream provider, forwarding requests
// unchanged and embedding an invisible, signed watermark into the generated
// text on the way back. Both one-shot and streamed (SSE) responses are
// watermarked, and a verification endpoint recovers and authenticates the
// embedded payload from arbitrary text.
//
// Usage:
//
//	markd [flags]
//
// Examples:
//
//	# Run with defaults (listens on :8080, reads UPSTREAM_API_KEY)
//	markd
//
//	# Run with a config file and watch it for changes
//	markd -config /etc/markd/config.toml -watch
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"markd/internal/config"
	"markd/internal/health"
	"markd/internal/logging"
	"markd/internal/metrics"
	"markd/internal/proxy"
)

var (
	// Version information (set at build time)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to config file (TOML, JSON, or YAML)")
	watch := flag.Bool("watch", false, "watch the config file and apply changes without restart")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("markd %s (commit: %s, built: %s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	// A .env file is optional; environment variables win either way.
	godotenv.Load()

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.RequireAPIKey(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Set UPSTREAM_API_KEY or upstream.api_key in the config file.")
		os.Exit(1)
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logging.SetDefault(log)

	m := metrics.GetMetrics()
	checker := health.NewChecker()

	server, err := proxy.NewServer(cfg, log, m, checker)
	if err != nil {
		log.Error("server setup failed", "error", err.Error())
		os.Exit(1)
	}

	if *watch {
		loader.OnChange(func(next *config.Config) {
			if level, err := logging.ParseLevel(next.Logging.Level); err == nil {
				log.SetLevel(level)
			}
			if err := server.UpdateWatermark(next.Watermark); err != nil {
				log.Warn("reload rejected watermark settings", "error", err.Error())
				return
			}
			log.Info("configuration reloaded",
				"interval", next.Watermark.Interval,
				"log_level", next.Logging.Level,
			)
		})
		if err := loader.Watch(); err != nil {
			log.Error("config watch failed", "error", err.Error())
			os.Exit(1)
		}
		defer loader.Close()

		go func() {
			for err := range loader.Errors() {
				log.Warn("config reload error", "error", err.Error())
			}
		}()
	}

	httpServer := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     server.Router(),
		ReadTimeout: time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		// No WriteTimeout: streamed responses stay open as long as the
		// upstream keeps generating.
	}

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			m.UpdateUptime()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("markd listening",
			"addr", cfg.Server.Addr,
			"upstream", cfg.Upstream.BaseURL,
			"interval", cfg.Watermark.Interval,
			"version", version,
		)
		errCh <- httpServer.ListenAndServe()
	}()
	checker.SetReady(true)

	select {
	case <-ctx.Done():
		checker.SetReady(false)
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown incomplete", "error", err.Error())
			httpServer.Close()
		}

	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err.Error())
			os.Exit(1)
		}
	}
}

// defaultConfigPath prefers a local config.toml, falling back to the
// per-user location.
func defaultConfigPath() string {
	if _, err := os.Stat("config.toml"); err == nil {
		return "config.toml"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return home + "/.markd/config.toml"
}

// newLogger builds the process logger from the configuration.
func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	return logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     cfg.Output,
		FilePath:   cfg.FilePath,
		MaxSize:    int64(cfg.MaxSizeMB),
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		Component:  "markd",
	})
}
