package fetcher

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"spacewatch/internal/metrics"
)

// newBreaker builds the per-source circuit breaker. It opens after five
// consecutive failures and probes again after two minutes.
func newBreaker(source string, logger zerolog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	metrics.CircuitBreakerState.WithLabelValues(source).Set(0)

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        source,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("source", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "rejected"
	default:
		return "failure"
	}
}
