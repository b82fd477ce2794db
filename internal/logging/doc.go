// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package logging is the process-wide zerolog logger.
//
// Init is called once from main with the logging section of the config.
// Components take a child logger with WithComponent and log structured
// fields:
//
//	logger := logging.WithComponent("audit")
//	logger.Warn().Int("dropped", n).Msg("audit buffer overflow")
//
// Two adapters route third-party logs through the same logger:
// NewSlogHandler for suture's event hook (via sutureslog) and
// NewWatermillAdapter for the event router and gochannel pub/sub.
//
// Request and correlation ids travel in the context; Ctx returns a logger
// carrying both. Mask, MaskEmail and RedactDetails keep tokens, session ids
// and addresses out of log lines and audit details.
package logging
