// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package services

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

var (
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*RunnerService)(nil)
	_ suture.Service = (*TickerService)(nil)
)

// fakeHTTPServer blocks in ListenAndServe until Shutdown, unless listenErr
// is set.
type fakeHTTPServer struct {
	listenErr   error
	shutdownErr error

	started   chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
	shutdowns atomic.Int32
}

func newFakeHTTPServer() *fakeHTTPServer {
	return &fakeHTTPServer{started: make(chan struct{}, 1), stop: make(chan struct{})}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	select {
	case f.started <- struct{}{}:
	default:
	}
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	f.stopOnce.Do(func() { close(f.stop) })
	return f.shutdownErr
}

func TestNewHTTPServerService_DefaultTimeout(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		if svc := NewHTTPServerService(newFakeHTTPServer(), d); svc.shutdownTimeout != 10*time.Second {
			t.Errorf("timeout %v: got %v, want 10s", d, svc.shutdownTimeout)
		}
	}
	svc := NewHTTPServerService(&http.Server{Addr: "127.0.0.1:9"}, time.Second)
	if svc.addr != "127.0.0.1:9" || svc.String() != "http-server" {
		t.Errorf("unexpected service %+v", svc)
	}
}

func TestHTTPServerService_Serve(t *testing.T) {
	bindErr := errors.New("bind: address already in use")
	shutdownErr := errors.New("shutdown timeout")

	tests := []struct {
		name        string
		listenErr   error
		shutdownErr error
		cancel      bool
		wantErr     error
	}{
		{"graceful shutdown", nil, nil, true, context.Canceled},
		{"startup failure", bindErr, nil, false, bindErr},
		{"shutdown failure", nil, shutdownErr, true, shutdownErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newFakeHTTPServer()
			server.listenErr = tt.listenErr
			server.shutdownErr = tt.shutdownErr
			svc := NewHTTPServerService(server, time.Second)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			errCh := make(chan error, 1)
			go func() { errCh <- svc.Serve(ctx) }()

			select {
			case <-server.started:
			case <-time.After(time.Second):
				t.Fatal("server did not start")
			}
			if tt.cancel {
				cancel()
			}

			select {
			case err := <-errCh:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Serve() = %v, want %v", err, tt.wantErr)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Serve did not return")
			}
		})
	}
}

func TestHTTPServerService_RealServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- NewHTTPServerService(server, time.Second).Serve(ctx) }()

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://" + addr + "/")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never answered: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v", err)
	}
}

func TestHTTPServerService_UnderSupervisor(t *testing.T) {
	server := newFakeHTTPServer()
	sup := suture.New("test", suture.Spec{
		FailureThreshold: 3,
		FailureBackoff:   10 * time.Millisecond,
		Timeout:          2 * time.Second,
	})
	sup.Add(NewHTTPServerService(server, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := sup.ServeBackground(ctx)

	select {
	case <-server.started:
	case <-time.After(time.Second):
		t.Fatal("server did not start")
	}
	cancel()
	<-errCh

	if server.shutdowns.Load() < 1 {
		t.Error("Shutdown was not called")
	}
}
