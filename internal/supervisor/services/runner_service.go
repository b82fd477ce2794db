// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package services

import (
	"context"
)

// RunFunc blocks until ctx is canceled or the component fails.
// (*websocket.Hub).RunWithContext and (*events.Bus).Run both fit.
type RunFunc func(ctx context.Context) error

// RunnerService supervises a component that already runs until its context
// ends. Suture restarts it when run returns early.
type RunnerService struct {
	name string
	run  RunFunc
}

// NewRunnerService names run for suture's event log.
//
//	tree.AddMessagingService(services.NewRunnerService("websocket-hub", hub.RunWithContext))
func NewRunnerService(name string, run RunFunc) *RunnerService {
	return &RunnerService{name: name, run: run}
}

// Serve implements suture.Service.
func (r *RunnerService) Serve(ctx context.Context) error {
	return r.run(ctx)
}

// String implements fmt.Stringer.
func (r *RunnerService) String() string {
	return r.name
}
