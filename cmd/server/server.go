package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

const readHeaderTimeout = 10 * time.Second

// serve runs the HTTP server and the queue consumers until ctx is done or
// the listener fails, then shuts down: HTTP first, consumers next, stores last.
func (app *application) serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", app.config.Server.Port))
	if err != nil {
		app.cleanup()
		return fmt.Errorf("failed to listen: %w", err)
	}
	return app.serveListener(ctx, ln)
}

func (app *application) serveListener(ctx context.Context, ln net.Listener) error {
	defer app.cleanup()

	server := &http.Server{
		Handler:           app.setupRouter(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	bgCtx, stopBackground := context.WithCancel(context.WithoutCancel(ctx))
	waitBackground := app.runBackground(bgCtx)
	defer func() {
		stopBackground()
		waitBackground()
	}()

	app.consumer.Start()

	serveErr := make(chan error, 1)
	go func() {
		app.logger.Info("starting server", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		app.logger.Info("shutting down server")
	case err := <-serveErr:
		if err != nil {
			app.logger.Error("server failed", "error", err)
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.config.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("server shutdown failed", "error", err)
		runErr = errors.Join(runErr, fmt.Errorf("server shutdown failed: %w", err))
	}

	app.consumer.Stop()

	app.logger.Info("server shutdown completed")
	return runErr
}
