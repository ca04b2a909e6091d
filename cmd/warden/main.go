package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/warden"
	"github.com/layer-3/warden/config"
	"github.com/layer-3/warden/core"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting warden", "env", cfg.Env, "store", cfg.Store.Driver)

	if cfg.Env == envProd {
		gin.SetMode(gin.ReleaseMode)
	}

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	w, err := warden.New(cfg, log)
	if err != nil {
		log.Error("warden_init_failed", "err", err)
		os.Exit(1)
	}

	w.OnWarning(func(minutes int) {
		log.Info("session_expiring", "minutes_remaining", minutes)
	})
	w.OnExpired(func(reason core.ExpiryReason) {
		log.Info("session_ended", "reason", reason)
	})

	resumed, err := w.Resume(rootCtx)
	if err != nil {
		log.Error("session_resume_failed", "err", err)
	} else if resumed {
		log.Info("session_resumed", "user_id", w.Session().UserID, "minutes_remaining", w.RemainingMinutes())
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           w.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("http_listen_start", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		if err != nil {
			log.Error("http_serve_failed", "err", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_failed", "err", err)
	}

	// The session stays persisted so the next start can resume it.
	if err := w.Close(); err != nil {
		log.Error("warden_close_failed", "err", err)
	}

	log.Info("warden_stopped")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
