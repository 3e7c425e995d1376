// Package shutdown provides graceful HTTP server shutdown with connection
// draining, adapted from the teacher's internal/shutdown (originally
// slog-based) to the logrus logger used throughout this daemon.
package shutdown

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// GracefulServe starts srv and blocks until SIGTERM or SIGINT, then drains
// active connections up to drainTimeout before returning.
func GracefulServe(srv *http.Server, drainTimeout time.Duration, log *logrus.Entry) error {
	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutdown signal received")
	}

	log.WithField("timeout", drainTimeout.String()).Info("draining connections")
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
		return err
	}

	log.Info("server stopped cleanly")
	return nil
}

// WaitForSignal blocks until SIGTERM or SIGINT.
func WaitForSignal(log *logrus.Entry) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	sig := <-quit
	log.WithField("signal", sig.String()).Info("shutdown signal received")
}
