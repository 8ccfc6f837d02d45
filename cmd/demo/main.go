package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/splax/apitrail/internal/demo"
	"github.com/splax/apitrail/pkg/config"
	"github.com/splax/apitrail/pkg/logger"
	"github.com/splax/apitrail/pkg/tracking"
)

func main() {
	cfg := config.LoadDemoConfig()
	log := logger.New("apitrail-demo", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mw, shipper, err := tracking.Setup(cfg.Tracking, log)
	if err != nil {
		log.Error("tracking setup failed", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	demo.New().Routes(mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mw.Wrap(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("demo service starting", "addr", cfg.Addr, "service", cfg.Tracking.ServiceName, "collector", cfg.Tracking.CollectorURL)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		if err := shipper.Close(shutdownCtx); err != nil {
			log.Warn("tracking shipper did not drain", "error", err, "dropped", shipper.Dropped())
		}
		log.Info("demo service stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
