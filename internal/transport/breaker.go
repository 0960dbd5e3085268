package transport

import (
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerConfig controls a circuit breaker guarding a flaky external call
// made from a service's Start or Stop.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32        // requests allowed through while half-open
	Interval         time.Duration // counter reset interval while closed
	Timeout          time.Duration // time spent open before trying half-open
	FailureThreshold uint32        // consecutive failures before tripping open
}

// DefaultBreakerConfig returns conservative defaults suitable for a
// service's external collaborator calls (e.g. a WebSocket dial, a timer
// backend reconnect).
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

// NewBreaker builds a gobreaker.CircuitBreaker from cfg. The generic result
// type is left as interface{} so the same construction serves any
// service's Start/Stop call, whatever it returns.
func NewBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker[interface{}] {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return gobreaker.NewCircuitBreaker[interface{}](settings)
}

// BreakerState reports a breaker's current state as a string, for logging
// or metrics labeling.
func BreakerState(cb *gobreaker.CircuitBreaker[interface{}]) string {
	return cb.State().String()
}

// Guard runs fn through cb, wrapping a service's start/stop call so
// repeated failures trip the breaker instead of retrying a dead
// collaborator on every dispatch.
func Guard(cb *gobreaker.CircuitBreaker[interface{}], fn func() (interface{}, error)) (interface{}, error) {
	return cb.Execute(fn)
}
