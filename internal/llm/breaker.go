package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/neverdownhq/neverdown/internal/fault"
)

// breaker wraps a provider in a circuit breaker with a per-call timeout.
// Repeated transport failures trip the breaker so a dead endpoint fails fast
// instead of burning the retry budget of every incident in flight.
type breaker struct {
	inner   Provider
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
}

func newBreaker(inner Provider, timeout time.Duration) *breaker {
	return &breaker{
		inner:   inner,
		timeout: timeout,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "llm:" + inner.Name(),
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (b *breaker) Name() string { return b.inner.Name() }

func (b *breaker) Chat(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Chat(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fault.Wrap(fault.CodeCircuitBreakerOpen, err,
				"%s endpoint unavailable", b.inner.Name())
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fault.Wrap(fault.CodeTimeout, err,
				"%s call exceeded %s", b.inner.Name(), b.timeout)
		}
		return nil, err
	}
	return out.(*Response), nil
}
