// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package events

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/tomtom215/beacon/internal/apperr"
	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/metrics"
	"github.com/tomtom215/beacon/internal/validation"
)

// Config holds event bus settings.
type Config struct {
	// CloseTimeout is how long Close waits for in-flight handlers.
	CloseTimeout time.Duration `koanf:"close_timeout"`

	// BufferSize is the per-subscriber channel buffer.
	BufferSize int64 `koanf:"buffer_size"`

	RetryMaxRetries      int           `koanf:"retry_max_retries"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`
	RetryMultiplier      float64       `koanf:"retry_multiplier"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CloseTimeout:         10 * time.Second,
		BufferSize:           256,
		RetryMaxRetries:      3,
		RetryInitialInterval: 500 * time.Millisecond,
		RetryMaxInterval:     10 * time.Second,
		RetryMultiplier:      2.0,
	}
}

// Bus is the in-process event ingress: a gochannel pub/sub and a router
// with one consumer handler on Topic.
//
// Middleware, outer to inner:
//  1. settle - ack whatever is still failing so gochannel does not redeliver forever
//  2. Recoverer - panics become errors
//  3. Retry - exponential backoff for transient failures
//  4. drop permanent - ack permanent failures without retrying
type Bus struct {
	pubsub *gochannel.GoChannel
	router *message.Router
	logger watermill.LoggerAdapter
	closed atomic.Bool
}

// NewBus wires handler to Topic. Call Run to start consuming.
func NewBus(cfg Config, handler message.NoPublishHandlerFunc) (*Bus, error) {
	logger := logging.NewWatermillAdapter()

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.BufferSize,
	}, logger)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	router.AddMiddleware(settle(logger))
	router.AddMiddleware(middleware.Recoverer)
	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          logger,
	}
	router.AddMiddleware(retry.Middleware)
	router.AddMiddleware(dropPermanent(logger))

	router.AddConsumerHandler("classify", Topic, pubsub, handler)

	return &Bus{pubsub: pubsub, router: router, logger: logger}, nil
}

// Publish validates evt and puts it on Topic.
func (b *Bus) Publish(ctx context.Context, evt *AppEvent) error {
	const op = "events.Publish"
	if b.closed.Load() {
		return apperr.Wrap(apperr.KindDeliveryFailure, op, ErrBusClosed)
	}
	if err := validation.Check(op, evt); err != nil {
		return err
	}
	msg, err := NewMessage(ctx, evt)
	if err != nil {
		return apperr.Wrap(apperr.KindValidationFailed, op, err)
	}
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		return apperr.Wrap(apperr.KindDeliveryFailure, op, err)
	}
	logging.Ctx(ctx).Debug().
		Str("component", "events").
		Str("type", evt.Type).
		Str("message_uuid", msg.UUID).
		Msg("event published")
	return nil
}

// Run consumes until ctx is cancelled or Close is called.
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running closes once the handler is subscribed.
func (b *Bus) Running() <-chan struct{} {
	return b.router.Running()
}

// Close stops the router, then the pub/sub.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	routerErr := b.router.Close()
	if err := b.pubsub.Close(); err != nil {
		return err
	}
	return routerErr
}

func dropPermanent(logger watermill.LoggerAdapter) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			out, err := h(msg)
			if err != nil && IsPermanentError(err) {
				logger.Error("Dropping event", err, watermill.LogFields{"message_uuid": msg.UUID})
				metrics.EventsReceived.WithLabelValues(string(OutcomeFailed)).Inc()
				return nil, nil
			}
			return out, err
		}
	}
}

func settle(logger watermill.LoggerAdapter) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			out, err := h(msg)
			if err != nil {
				logger.Error("Event failed after retries", err, watermill.LogFields{"message_uuid": msg.UUID})
				metrics.EventsReceived.WithLabelValues(string(OutcomeFailed)).Inc()
				return nil, nil
			}
			return out, nil
		}
	}
}
