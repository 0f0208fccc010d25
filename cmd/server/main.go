package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/skirmish-backend/internal/config"
	"github.com/DoyleJ11/skirmish-backend/internal/httpapi"
	"github.com/DoyleJ11/skirmish-backend/internal/hub"
	"github.com/DoyleJ11/skirmish-backend/internal/logging"
	"github.com/DoyleJ11/skirmish-backend/internal/session"
	"github.com/DoyleJ11/skirmish-backend/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := hub.NewHub(context.Background(), session.Options{
		Logger:      log.Named("session"),
		LogCapacity: cfg.EventLogCapacity,
	})

	// Build the router *with* the hub injected
	handler := httpapi.SetupRoutes(h, httpapi.Options{
		Logger:      log.Named("http"),
		BearerToken: cfg.APIBearerToken,
		WS: ws.Options{
			Logger:         log.Named("ws"),
			OutboxSize:     cfg.OutboxSize,
			WriteTimeout:   cfg.WriteTimeout,
			PingInterval:   cfg.PingInterval,
			OriginPatterns: cfg.AllowedOrigins,
		},
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: handler}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("auth", cfg.APIBearerToken != ""))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Rooms go first so open sockets get a close frame before the
		// listener stops.
		if err := h.Shutdown(shutdownCtx); err != nil {
			log.Warn("hub shutdown", zap.Error(err))
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
