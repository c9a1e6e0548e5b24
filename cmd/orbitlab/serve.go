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

	"github.com/spf13/cobra"

	"github.com/star/orbitlab/internal/api"
	"github.com/star/orbitlab/internal/auth"
	"github.com/star/orbitlab/internal/config"
	"github.com/star/orbitlab/internal/stream"
	"github.com/star/orbitlab/internal/tle"
)

func serveCmd(g *globals) *cobra.Command {
	var paused bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the simulation behind the HTTP and SSE API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(os.Stdout, g.cfg.LogLevel)
			return serve(g, logger, paused)
		},
	}
	cmd.Flags().BoolVar(&paused, "paused", false, "start with the clock paused")
	return cmd
}

func serve(g *globals, logger *slog.Logger, paused bool) error {
	cfg := g.cfg

	sess, err := g.newSession(logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	catalog := newCatalog(cfg.TLE, logger)
	if _, err := catalog.LoadCached(cfg.TLE.Group); err != nil {
		logger.Info("no TLE cache found, starting without catalog data", "group", cfg.TLE.Group, "error", err)
	}

	srv := api.NewServer(sess, catalog, api.Options{
		Addr:       cfg.HTTP.Addr,
		Auth:       auth.Config{Enabled: cfg.Auth.Enabled, Token: cfg.Auth.Token},
		TrustProxy: cfg.HTTP.TrustProxy,
		Stream: stream.Config{
			MaxConcurrentPerIP: cfg.Stream.MaxConcurrentPerIP,
			BandwidthLimit:     cfg.Stream.BandwidthLimit,
			KeepaliveInterval:  cfg.Stream.KeepaliveInterval,
			TrustProxy:         cfg.HTTP.TrustProxy,
		},
		CatalogGroup: cfg.TLE.Group,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !paused {
		sess.Play()
	}
	go func() {
		if err := sess.Drive(ctx, cfg.TickInterval()); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("simulation loop stopped", "error", err)
		}
	}()

	if cfg.TLE.EnableFetch {
		go refreshCatalog(ctx, catalog, cfg.TLE, logger)
	}

	// Background goroutine to keep the catalog age gauge current.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				catalog.AgeSeconds()
			case <-ctx.Done():
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			"addr", cfg.HTTP.Addr,
			"session_id", sess.ID(),
			"auth_enabled", cfg.Auth.Enabled,
			"tle_fetch_enabled", cfg.TLE.EnableFetch,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-errCh:
		logger.Error("server listen error", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

// newCatalog builds the TLE store. Without fetching enabled the store still
// serves whatever is cached on disk.
func newCatalog(cfg config.TLEConfig, logger *slog.Logger) *tle.Store {
	var fetcher *tle.Fetcher
	if cfg.EnableFetch {
		fetcher = tle.NewFetcher(cfg.BaseURL, logger)
	}
	return tle.NewStore(fetcher, tle.NewCache(cfg.CacheDir, cfg.MaxFiles), logger)
}

// refreshCatalog downloads the configured group whenever the current
// dataset is missing or older than MaxAge.
func refreshCatalog(ctx context.Context, store *tle.Store, cfg config.TLEConfig, logger *slog.Logger) {
	refresh := func() {
		age := store.AgeSeconds()
		if age >= 0 && age < cfg.MaxAge.Seconds() {
			return
		}
		fetchCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
		defer cancel()
		ds, err := store.Refresh(fetchCtx, cfg.Group)
		if err != nil {
			logger.Warn("TLE refresh failed", "group", cfg.Group, "error", err)
			return
		}
		logger.Info("TLE catalog refreshed", "group", ds.Group, "entries", len(ds.Entries))
	}

	refresh()
	ticker := time.NewTicker(cfg.MaxAge / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			refresh()
		case <-ctx.Done():
			return
		}
	}
}
