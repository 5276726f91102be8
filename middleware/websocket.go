// Package middleware decorates inbound WebSocket frame handlers with
// cross-cutting concerns. Handlers run on the transport read goroutine, so
// recovery in particular keeps a panicking callback from killing the read
// loop.
package middleware

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// FrameHandler processes one inbound frame.
type FrameHandler func(ctx context.Context, frame []byte) error

// Middleware wraps a FrameHandler.
type Middleware func(FrameHandler) FrameHandler

// FrameMetrics receives per-frame instrumentation. The metrics package's
// Collector implements it.
type FrameMetrics interface {
	FrameProcessed(bytes int, elapsed time.Duration)
	FrameError()
}

// Chain composes middleware. The first middleware is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(handler FrameHandler) FrameHandler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			handler = middlewares[i](handler)
		}
		return handler
	}
}

// Logging traces frame handling at debug level and surfaces handler errors
// at warn.
func Logging(log zerolog.Logger) Middleware {
	return func(next FrameHandler) FrameHandler {
		return func(ctx context.Context, frame []byte) error {
			start := time.Now()
			err := next(ctx, frame)
			elapsed := time.Since(start)

			if err != nil {
				log.Warn().Err(err).Int("bytes", len(frame)).Dur("elapsed", elapsed).Msg("frame handler failed")
				return err
			}
			log.Trace().Int("bytes", len(frame)).Dur("elapsed", elapsed).Msg("frame handled")
			return nil
		}
	}
}

// Metrics records frame size, handling latency, and failures.
func Metrics(collector FrameMetrics) Middleware {
	if collector == nil {
		return func(next FrameHandler) FrameHandler {
			return next
		}
	}
	return func(next FrameHandler) FrameHandler {
		return func(ctx context.Context, frame []byte) error {
			start := time.Now()
			err := next(ctx, frame)
			collector.FrameProcessed(len(frame), time.Since(start))
			if err != nil {
				collector.FrameError()
			}
			return err
		}
	}
}

// Recovery converts a handler panic into an error so the read loop
// survives.
func Recovery(log zerolog.Logger) Middleware {
	return func(next FrameHandler) FrameHandler {
		return func(ctx context.Context, frame []byte) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from frame handler panic")
					err = fmt.Errorf("panic in frame handler: %v", r)
				}
			}()
			return next(ctx, frame)
		}
	}
}

// Timeout bounds frame handling. The handler keeps running on timeout; only
// the caller is released.
func Timeout(timeout time.Duration) Middleware {
	return func(next FrameHandler) FrameHandler {
		return func(ctx context.Context, frame []byte) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- next(ctx, frame)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return fmt.Errorf("frame handling timed out: %w", ctx.Err())
			}
		}
	}
}
