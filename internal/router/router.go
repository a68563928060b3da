package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Sentinel is the reply text used when every endpoint failed.
const Sentinel = "⚠️ All endpoints failed, please try again later."

// DefaultTimeout bounds each attempt.
const DefaultTimeout = 10 * time.Second

// ErrExhausted is returned with Sentinel when no endpoint produced a reply.
var ErrExhausted = errors.New("all endpoints failed")

type attemptState int

const (
	stateTryWithModel attemptState = iota
	stateTryWithoutModel
	stateNextEndpoint
	stateSuccess
)

func (s attemptState) String() string {
	switch s {
	case stateTryWithModel:
		return "try_with_model"
	case stateTryWithoutModel:
		return "try_without_model"
	case stateNextEndpoint:
		return "next_endpoint"
	default:
		return "success"
	}
}

// next is the per-endpoint transition: a failure with the model retries
// without it, a failure without the model moves on.
func next(s attemptState, err error) attemptState {
	if err == nil {
		return stateSuccess
	}
	if s == stateTryWithModel {
		return stateTryWithoutModel
	}
	return stateNextEndpoint
}

// Router tries backends in list order, at most two attempts each.
type Router struct {
	backends []Backend
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a Router. A non-positive timeout means DefaultTimeout.
func New(backends []Backend, timeout time.Duration, logger *slog.Logger) *Router {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Router{
		backends: backends,
		timeout:  timeout,
		logger:   logger,
	}
}

// Send returns the first successful completion. When every endpoint fails it
// returns Sentinel and an error wrapping ErrExhausted.
func (r *Router) Send(ctx context.Context, messages []Message, model string, maxTokens int) (string, error) {
	var lastErr error

	for _, b := range r.backends {
		state := stateTryWithModel
		if model == "" {
			// Nothing to drop, so one attempt covers both.
			state = stateTryWithoutModel
		}

		for attempt := 1; state == stateTryWithModel || state == stateTryWithoutModel; attempt++ {
			req := &Request{Messages: messages, MaxTokens: maxTokens}
			if state == stateTryWithModel {
				req.Model = model
			}

			reply, err := r.attempt(ctx, b, req, attempt)
			prev := state
			state = next(state, err)
			if state == stateSuccess {
				if attempt > 1 {
					r.logger.Info("Endpoint succeeded without model", "endpoint", b.Name())
				}
				return reply, nil
			}

			lastErr = err
			r.logger.Warn("Endpoint attempt failed",
				"endpoint", b.Name(),
				"attempt", attempt,
				"state", prev.String(),
				"error", err,
			)

			if ctx.Err() != nil {
				return Sentinel, fmt.Errorf("%w: %w", ErrExhausted, ctx.Err())
			}
		}

		r.logger.Error("Endpoint failed, trying next", "endpoint", b.Name())
	}

	if lastErr == nil {
		return Sentinel, fmt.Errorf("%w: no endpoints configured", ErrExhausted)
	}
	return Sentinel, fmt.Errorf("%w: last error: %w", ErrExhausted, lastErr)
}

func (r *Router) attempt(ctx context.Context, b Backend, req *Request, n int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	reply, err := b.Complete(ctx, req)
	if err == nil {
		return reply, nil
	}

	var ee *EndpointError
	if !errors.As(err, &ee) {
		ee = &EndpointError{Endpoint: b.Name(), Kind: classify(err), Err: err}
	}
	ee.Attempt = n
	return "", ee
}

func classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	return ErrorUnknown
}
