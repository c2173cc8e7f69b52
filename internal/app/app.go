package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/convosync/internal/auth"
	"github.com/vovakirdan/convosync/internal/backend"
	"github.com/vovakirdan/convosync/internal/config"
	"github.com/vovakirdan/convosync/internal/relay"
	"github.com/vovakirdan/convosync/internal/store"
	"github.com/vovakirdan/convosync/internal/store/sqlite"
)

// App is the reference backend process: one SQLite store, one relay hub and
// the HTTP server exposing both.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *relay.Hub
	store           store.Store
	log             *zerolog.Logger

	ready chan struct{}
	addr  net.Addr
}

// New opens the store and wires auth, hub and routes from cfg.
func New(cfg config.ServerConfig, logger *zerolog.Logger) (*App, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}

	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.TokenTTL,
	})
	hub := relay.NewHub(st, logger)

	return &App{
		server:          backend.NewServer(hub, authService, st, cfg, logger),
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		log:             logger,
		ready:           make(chan struct{}),
	}, nil
}

// Ready is closed once the listener is bound.
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// Addr is the bound listen address; valid after Ready.
func (a *App) Addr() net.Addr {
	return a.addr
}

// Run serves until ctx is cancelled or the listener fails, then drains
// connections, stops the hub and closes the store.
func (a *App) Run(ctx context.Context) error {
	defer a.closeStore()

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	a.addr = ln.Addr()
	close(a.ready)
	a.log.Info().Str("addr", a.addr.String()).Msg("http server listening")

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		a.hub.Run(hubCtx)
	}()
	defer func() {
		stopHub()
		<-hubDone
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.server.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, stdhttp.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	a.log.Info().Msg("shutting down http server")
	// Hijacked websockets are not tracked by Shutdown; stopping the hub
	// closes their event streams.
	stopHub()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-serveErr; !errors.Is(err, stdhttp.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) closeStore() {
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
		return
	}
	a.log.Info().Msg("store closed")
}
