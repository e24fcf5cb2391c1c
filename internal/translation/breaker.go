package translation

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"codeberg.org/snonux/decktranslate/internal/logger"
)

// BreakerSettings configures BreakerBackend
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again
	OpenTimeout time.Duration
}

// DefaultBreakerSettings returns the settings used by the CLI
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 10,
		OpenTimeout:         30 * time.Second,
	}
}

// BreakerBackend guards a backend with a circuit breaker. While the breaker
// is open calls fail immediately with KindBreaker, so an exhausted cycle
// reaches its backoff without issuing requests against a failing API.
type BreakerBackend struct {
	next Backend
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerBackend wraps next
func NewBreakerBackend(next Backend, settings BreakerSettings) *BreakerBackend {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}
	l := logger.WithComponent("translation/breaker")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		// Per-proxy failures say nothing about the API itself.
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var te *Error
			return errors.As(err, &te) && te.Kind == KindProxy
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn().Str("backend", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})

	return &BreakerBackend{next: next, cb: cb}
}

// Name returns the wrapped backend's name
func (b *BreakerBackend) Name() string {
	return b.next.Name()
}

// State returns the breaker state
func (b *BreakerBackend) State() gobreaker.State {
	return b.cb.State()
}

// Translate runs the wrapped call through the breaker
func (b *BreakerBackend) Translate(ctx context.Context, route Route, req Request) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Translate(ctx, route, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", &Error{Kind: KindBreaker, Err: err}
		}
		return "", err
	}
	return out.(string), nil
}
