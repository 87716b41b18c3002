// Package server runs the two public surfaces of a webpub deployment: the
// HTTP site server that resolves and reassembles published trees, and the
// sync endpoint that accepts deduplicated pushes over a websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"
	"golang.org/x/sync/errgroup"

	"github.com/webpubio/webpub/internal/store"
)

type Server struct {
	config *Config
	store  *store.Store

	httpServer *http.Server
	syncServer *http.Server
}

func New(config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	sites, err := newSiteHandler(st)
	if err != nil {
		st.Close()
		return nil, err
	}
	sync := newSyncHandler(st, config.Keep)

	return &Server{
		config: config,
		store:  st,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", config.HTTPPort),
			Handler: siteRoutes(sites),
		},
		syncServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", config.SyncPort),
			Handler: syncRoutes(sync),
		},
	}, nil
}

// Start runs both listeners until ctx is cancelled, then shuts them down and
// closes the store.
func (s *Server) Start(ctx context.Context) error {
	slog.Info("webpub server start",
		"http", s.httpServer.Addr,
		"sync", s.syncServer.Addr,
		"data", s.config.DataDir,
		"keep", s.config.Keep)
	defer slog.Info("webpub server stop")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.syncServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("sync server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.Stop(context.Background())
	})

	err := g.Wait()
	if closeErr := s.store.Close(); closeErr != nil {
		slog.Error("store close", "error", closeErr)
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := s.syncServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func siteRoutes(sites *siteHandler) http.Handler {
	r := gin.New()
	r.Use(sloggin.NewWithConfig(slog.Default().WithGroup("http"), sloggin.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
	}))
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.BestSpeed))

	r.GET("/*path", sites.Serve)
	return r
}

func syncRoutes(sync *syncHandler) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/", sync.Handle)
	return r
}
