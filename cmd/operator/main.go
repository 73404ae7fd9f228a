package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/vetcall/internal/adapter/driven/gateway/ws"
	mediamem "github.com/Wyydra/vetcall/internal/adapter/driven/media/memory"
	"github.com/Wyydra/vetcall/internal/adapter/driven/media/pion"
	handler "github.com/Wyydra/vetcall/internal/adapter/driving/http"
	"github.com/Wyydra/vetcall/internal/config"
	"github.com/Wyydra/vetcall/internal/core/domain"
	"github.com/Wyydra/vetcall/internal/core/port"
	"github.com/Wyydra/vetcall/internal/core/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	l := newLogger(cfg.Log)
	log.Logger = l

	media, err := newMedia(cfg.Media)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to create media transport")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := ws.NewChannel(ws.Config{
		URL:               cfg.Signaling.URL,
		ReconnectAttempts: cfg.Signaling.ReconnectAttempts,
		ReconnectDelay:    cfg.Signaling.ReconnectDelay,
	})
	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	err = channel.Connect(dialCtx)
	dialCancel()
	if err != nil {
		l.Fatal().Err(err).Str("url", cfg.Signaling.URL).Msg("Failed to connect to signaling service")
	}

	policy := service.DefaultPolicy(cfg.Operator.ID)
	policy.Role = cfg.Operator.Role
	policy.MaxRetries = cfg.Call.MaxRetries
	policy.NegotiationTimeout = cfg.Call.NegotiationTimeout
	policy.ReconnectBackoff = cfg.Call.ReconnectBackoff
	policy.Link = cfg.Media.LinkConfig()
	policy.DefaultBilling = domain.Billing{
		Amount: cfg.Call.BillingAmount,
		Reason: cfg.Call.BillingReason,
	}

	hub := ws.NewHub()
	calls := service.NewCallService(channel, media, policy)
	calls.Subscribe(hub)
	h := handler.NewHandler(calls, hub)

	go hub.Run()

	runErr := make(chan error, 1)
	go func() {
		runErr <- calls.Run(ctx)
	}()

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h.NewRouter(),
	}

	go func() {
		l.Info().Str("addr", cfg.Server.Addr).Str("operator_id", cfg.Operator.ID.String()).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error().Err(err).Msg("Call dispatch stopped")
		}
	}
	l.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := calls.Close(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("Active call not released in time")
	}
	cancel()
	if err := channel.Close(); err != nil {
		l.Error().Err(err).Msg("Error closing signaling channel")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	hub.Stop()
	l.Info().Msg("Server exited")
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		return zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	}
	w := zerolog.ConsoleWriter{Out: os.Stdout}
	return zerolog.New(w).With().Timestamp().Caller().Logger()
}

func newMedia(cfg config.MediaConfig) (port.MediaTransport, error) {
	if cfg.Backend == config.BackendMemory {
		log.Warn().Msg("Using in-memory media transport, no real media will flow")
		return mediamem.NewTransport(), nil
	}
	return pion.NewTransport(pion.DefaultConfig())
}
