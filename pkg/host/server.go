package host

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Preload resolves every module the page imports concurrently. Failures are
// logged and the first one is returned; the host serves either way.
func (a *App) Preload(ctx context.Context) error {
	var g errgroup.Group
	for _, ref := range a.required {
		g.Go(func() error {
			start := time.Now()
			if _, err := a.loader.Resolve(ctx, ref.Container, ref.Exposed); err != nil {
				a.logger.Warn("Preload failed",
					zap.String("module", ref.String()),
					zap.Error(err))
				return err
			}
			a.logger.Info("Preloaded remote module",
				zap.String("module", ref.String()),
				zap.Duration("elapsed", time.Since(start)))
			return nil
		})
	}
	return g.Wait()
}

// Serve listens on the configured address until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Server.Address, err)
	}
	return a.ServeListener(ctx, listener)
}

// ServeListener runs the HTTP server on listener, plus the gRPC health
// service when configured, and shuts both down gracefully once ctx is done.
func (a *App) ServeListener(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Shell host listening",
			zap.String("name", a.cfg.Name),
			zap.String("address", listener.Addr().String()),
			zap.String("fail_mode", string(a.cfg.Server.FailMode)))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down shell host")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Std())
		defer cancel()

		a.live.closeAll()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	if a.health != nil && a.cfg.Server.GRPCAddress != "" {
		g.Go(func() error {
			return a.health.Serve(gctx, a.cfg.Server.GRPCAddress)
		})
	}

	// Warm the remote modules without holding up the listener.
	go a.Preload(gctx)

	return g.Wait()
}
