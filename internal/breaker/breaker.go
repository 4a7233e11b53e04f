// Package breaker builds the circuit breakers that guard external
// collaborators (the Redis cache, the predictor service).
package breaker

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"stratsim/internal/logger"
	"stratsim/internal/metrics"
)

// Settings tune a breaker. Zero fields take the defaults below.
type Settings struct {
	// MaxFailures consecutive failures open the breaker. Default 5.
	MaxFailures uint32
	// ResetTimeout is how long the breaker stays open before letting one trial call through. Default 10s.
	ResetTimeout time.Duration
	// Interval clears the closed-state counts periodically. Default 60s.
	Interval time.Duration
}

// New returns a breaker that reports its state to m and logs transitions.
// States are exported as 0 closed, 1 half-open, 2 open.
func New(name string, s Settings, m *metrics.Metrics, log *zap.Logger) *gobreaker.CircuitBreaker {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 10 * time.Second
	}
	if s.Interval <= 0 {
		s.Interval = 60 * time.Second
	}
	log = logger.OrNop(log)
	maxFailures := s.MaxFailures

	m.SetBreakerState(name, int(gobreaker.StateClosed))
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    s.Interval,
		Timeout:     s.ResetTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.SetBreakerState(name, int(to))
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// IsOpen reports whether err, or anything it wraps, is a breaker rejecting
// the call without running it.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
