// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tomtom215/beacon/internal/logging"
)

// HTTPServer is the part of *http.Server the service drives.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an HTTP server under suture. ListenAndServe runs in
// a goroutine; cancellation triggers Shutdown bounded by shutdownTimeout.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	addr            string
}

// NewHTTPServerService wraps server. A non-positive timeout means 10s.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	svc := &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout}
	if s, ok := server.(*http.Server); ok {
		svc.addr = s.Addr
	}
	return svc
}

// Serve implements suture.Service. It returns ctx.Err() after a clean
// shutdown and the listener error if the server stops on its own.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logging.Info().Str("component", "http-server").Str("addr", h.addr).Msg("http server listening")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		logging.Info().Str("component", "http-server").Msg("http server stopped")
		return ctx.Err()
	}
}

// String implements fmt.Stringer for suture's event log.
func (h *HTTPServerService) String() string {
	return "http-server"
}
