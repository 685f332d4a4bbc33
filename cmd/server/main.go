package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qiuyan86/antigravity-gateway/internal/antigravity"
	"github.com/qiuyan86/antigravity-gateway/internal/artifact"
	"github.com/qiuyan86/antigravity-gateway/internal/catalog"
	"github.com/qiuyan86/antigravity-gateway/internal/config"
	"github.com/qiuyan86/antigravity-gateway/internal/gateway"
	"github.com/qiuyan86/antigravity-gateway/internal/metrics"
	"github.com/qiuyan86/antigravity-gateway/internal/tokenpool"
	"github.com/qiuyan86/antigravity-gateway/internal/translate"
	"github.com/qiuyan86/antigravity-gateway/internal/userstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	slog.Info("starting antigravity-gateway",
		"listen", cfg.ListenAddr,
		"settings_file", cfg.SettingsFile,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := tokenpool.New(&tokenpool.FileSource{Path: cfg.SettingsFile}, slog.Default())
	if err != nil {
		slog.Error("failed to load credential pool", "error", err)
		os.Exit(1)
	}

	users, err := userstore.LoadFile(cfg.SettingsFile)
	if err != nil {
		slog.Error("failed to load user store", "error", err)
		os.Exit(1)
	}

	store, err := artifact.NewR2Store(cfg.R2, slog.Default())
	if err != nil {
		slog.Error("failed to initialize artifact store", "error", err)
		os.Exit(1)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	m.SetPoolSize(pool.Size(), pool.Enabled())

	client := antigravity.NewClient(antigravity.ClientConfig{
		GenerateURL: cfg.GenerateURL,
		ModelsURL:   cfg.ModelsURL,
		Host:        cfg.Host,
		UserAgent:   cfg.UserAgent,
		Timeout:     cfg.RequestTimeout,
	})

	dispatcher := antigravity.NewDispatcher(client, pool, users, store, cfg.RetryCooldown, slog.Default(), m)
	translator := translate.NewTranslator(store, slog.Default())
	builder := translate.NewBuilder(translator, cfg.SystemInstruction, translate.DefaultSampling)
	cat := catalog.New(client, pool, users, slog.Default())

	service := gateway.NewService(builder, dispatcher, cat, m, slog.Default())
	handler := gateway.NewHandler(service, users, cfg.AdminKey, slog.Default())
	srv := gateway.NewServer(cfg.ListenAddr, handler, cfg.RequestTimeout)

	if cfg.WatchSettings {
		watcher := tokenpool.NewWatcher(pool, cfg.SettingsFile, slog.Default())
		go func() {
			if err := watcher.Watch(ctx); err != nil {
				slog.Error("settings watcher stopped", "error", err)
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	case err := <-serverErr:
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
