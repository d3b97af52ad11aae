package ai

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// BreakerGenerator stops calling a failing generator for a cooldown
// period after a run of consecutive failures.
type BreakerGenerator struct {
	next Generator
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerGenerator trips after failures consecutive errors and probes
// again after cooldown.
func NewBreakerGenerator(next Generator, failures int, cooldown time.Duration, log zerolog.Logger) *BreakerGenerator {
	if failures <= 0 {
		failures = 3
	}
	return &BreakerGenerator{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "reply-generator",
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(failures)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("circuit breaker state changed")
			},
		}),
	}
}

func (b *BreakerGenerator) Draft(ctx context.Context, req DraftRequest) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Draft(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", ErrGeneratorUnavailable
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// State exposes the breaker state for status output.
func (b *BreakerGenerator) State() string {
	return b.cb.State().String()
}
