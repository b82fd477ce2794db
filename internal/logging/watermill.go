// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package logging

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// WatermillAdapter implements watermill.LoggerAdapter on zerolog so router
// and pub/sub logs share the application's format and level.
//
// Watermill's Info level is chatty (every subscriber start and handler
// registration), so it is logged at debug. Trace maps to zerolog trace.
type WatermillAdapter struct {
	logger zerolog.Logger
}

// NewWatermillAdapter wraps the global logger with component=events.
func NewWatermillAdapter() *WatermillAdapter {
	return &WatermillAdapter{logger: WithComponent("events")}
}

// NewWatermillAdapterWithLogger wraps a specific logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewWatermillAdapterWithLogger(logger zerolog.Logger) *WatermillAdapter {
	return &WatermillAdapter{logger: logger}
}

// Error implements watermill.LoggerAdapter.
func (a *WatermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	withFields(a.logger.Error().Err(err), fields).Msg(msg)
}

// Info implements watermill.LoggerAdapter.
func (a *WatermillAdapter) Info(msg string, fields watermill.LogFields) {
	withFields(a.logger.Debug(), fields).Msg(msg)
}

// Debug implements watermill.LoggerAdapter.
func (a *WatermillAdapter) Debug(msg string, fields watermill.LogFields) {
	withFields(a.logger.Debug(), fields).Msg(msg)
}

// Trace implements watermill.LoggerAdapter.
func (a *WatermillAdapter) Trace(msg string, fields watermill.LogFields) {
	withFields(a.logger.Trace(), fields).Msg(msg)
}

// With implements watermill.LoggerAdapter.
func (a *WatermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := a.logger.With()
	for k, v := range fields {
		if IsSensitiveKey(k) {
			v = Redacted
		}
		ctx = ctx.Interface(k, v)
	}
	return &WatermillAdapter{logger: ctx.Logger()}
}

func withFields(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		if IsSensitiveKey(k) {
			v = Redacted
		}
		e = e.Interface(k, v)
	}
	return e
}
