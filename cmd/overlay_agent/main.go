package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/overlay_agent/internal/api"
	"github.com/dgnsrekt/overlay_agent/internal/browser"
	"github.com/dgnsrekt/overlay_agent/internal/catalog"
	"github.com/dgnsrekt/overlay_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/overlay_agent/internal/config"
	"github.com/dgnsrekt/overlay_agent/internal/extract"
	"github.com/dgnsrekt/overlay_agent/internal/fetch"
	"github.com/dgnsrekt/overlay_agent/internal/host"
	"github.com/dgnsrekt/overlay_agent/internal/netutil"
	"github.com/dgnsrekt/overlay_agent/internal/persist"
	"github.com/dgnsrekt/overlay_agent/internal/relay"
	"github.com/dgnsrekt/overlay_agent/internal/storage"
)

func main() {
	cfg, err := config.LoadAgent()
	if err != nil {
		slog.Error("failed to load agent config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("agent config loaded",
		"cdp_url", cfg.CDPURL(),
		"bind_addr", cfg.BindAddr,
		"tab_url_filter", cfg.TabURLFilter,
		"collaborator_url", cfg.CollaboratorURL,
		"fetch_timeout", cfg.FetchTimeout,
		"settle_delay", cfg.SettleDelay,
		"retry_delay", cfg.RetryDelay,
		"max_retries", cfg.MaxRetries,
		"db_path", cfg.DBPath,
		"log_level", cfg.LogLevel,
	)

	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		slog.Error("failed to load catalog", "file", cfg.CatalogFile, "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		slog.Error("failed to create data directory", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	durable, err := persist.OpenSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open durable store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = durable.Close() }()

	journal := storage.NewJSONLWriter(cfg.JournalDir, "panel_events", 4096, cfg.JournalMaxMB)
	defer func() { _ = journal.Close() }()
	broker := relay.NewBroker(host.FeedPanel, host.FeedTabs)
	sink := relay.Fanout{broker, relay.NewJournal(journal)}

	ln, err := netutil.Listen(cfg.BindAddr, cfg.BindFallbacks, cfg.AutoFallback)
	if err != nil {
		slog.Error("failed to bind control API", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.BrowserStartURL,
			ProfileDir: cfg.BrowserProfile,
			Headless:   cfg.BrowserHeadless,
		})
		if err := launcher.Launch(ctx); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	cdpClient := cdpcontrol.NewClient(cfg.CDPURL(), cfg.TabURLFilter, cfg.EvalTimeout)
	if err := cdpClient.Connect(ctx); err != nil {
		slog.Error("failed to connect CDP", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() { _ = cdpClient.Close() }()

	collab := fetch.NewHTTPCollaborator(&http.Client{Timeout: cfg.FetchTimeout + 5*time.Second}, cfg.CollaboratorURL, cfg.CollaboratorAPIKey)
	h := host.New(host.NewCDPBrowser(cdpClient), extract.New(cat), collab, durable, sink, host.Options{
		FetchTimeout: cfg.FetchTimeout,
		SettleDelay:  cfg.SettleDelay,
		RetryDelay:   cfg.RetryDelay,
		MaxRetries:   cfg.MaxRetries,
		SyncInterval: cfg.SyncInterval,
	})

	srv := &http.Server{Handler: api.NewServer(h, broker), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		addr := ln.Addr().String()
		slog.Info("agent listening", "addr", addr, "docs", "http://"+addr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("agent server failed", "error", err)
			stop()
		}
	}()

	if err := h.Run(ctx); err != nil {
		slog.Error("host stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("agent shutdown failed", "error", err)
	}
	slog.Info("agent stopped")
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
