// Package breaker provides generic per-dependency failure isolation, built
// on top of github.com/sony/gobreaker's state machine.
package breaker

import (
	"context"
	"errors"

	"github.com/memkeep/memkeep/internal/apperr"
	"github.com/memkeep/memkeep/internal/config"
	"github.com/sony/gobreaker/v2"
)

// State mirrors the breaker's three states without leaking the underlying
// library's type into callers.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker guards a single dependency. T is the successful-call result type.
type Breaker[T any] struct {
	name string
	cb   *gobreaker.CircuitBreaker[T]
}

// New constructs a breaker for the named dependency using the given params.
// gobreaker's half-open MaxRequests serves double duty here: it both caps
// half-open concurrency and, because gobreaker closes the breaker once
// MaxRequests consecutive successes complete, doubles as the success
// threshold. We pick success_threshold for MaxRequests since the default
// half_open_max_concurrency of 1 would otherwise make recovery single-shot
// regardless of success_threshold.
func New[T any](name string, params config.BreakerParams) *Breaker[T] {
	maxRequests := params.SuccessThreshold
	if maxRequests == 0 {
		maxRequests = 1
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: maxRequests,
		Timeout:     params.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= params.FailureThreshold
		},
	}
	return &Breaker[T]{
		name: name,
		cb:   gobreaker.NewCircuitBreaker[T](settings),
	}
}

// State reports the breaker's current state for pipeline short-circuit
// decisions.
func (b *Breaker[T]) State() State {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Closed reports whether the breaker currently admits calls without a trial
// probe restriction — used by the pipeline's "Reranker's breaker is closed"
// gate.
func (b *Breaker[T]) Closed() bool {
	return b.cb.State() == gobreaker.StateClosed
}

// Execute runs fn through the breaker. If the breaker is open, it returns
// apperr.ErrBreakerOpen (wrapped as apperr.KindUnavailable) without calling fn.
func (b *Breaker[T]) Execute(ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := b.cb.Execute(func() (T, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return result, apperr.Unavailable(b.name, "circuit breaker open", apperr.ErrBreakerOpen)
		}
		return result, err
	}
	return result, nil
}
