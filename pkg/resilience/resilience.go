package resilience

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"vozconnect/pkg/logger"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

// RedisResilience wraps Redis-backed operations with retry and a circuit
// breaker. Call-log writes and directory lookups route through here so a
// down Redis fails fast instead of stalling call handling.
type RedisResilience struct {
	mu                  sync.RWMutex
	state               CircuitBreakerState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
	metrics             *redisMetrics
}

// redisMetrics tracks guarded operation metrics
type redisMetrics struct {
	requestsTotal       *prometheus.CounterVec
	errorsTotal         *prometheus.CounterVec
	circuitBreakerState prometheus.Gauge
}

var (
	redisMetricsInstance *redisMetrics
	redisMetricsOnce     sync.Once
)

func init() {
	redisMetricsOnce.Do(func() {
		redisMetricsInstance = &redisMetrics{
			requestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "redis_guarded_requests_total",
					Help: "Total number of guarded Redis requests",
				},
				[]string{"operation", "status"},
			),
			errorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "redis_guarded_errors_total",
					Help: "Total number of guarded Redis errors",
				},
				[]string{"operation", "error_type"},
			),
			circuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "redis_circuit_breaker_state",
				Help: "State of Redis circuit breaker (0=closed, 1=half_open, 2=open)",
			}),
		}
		prometheus.MustRegister(redisMetricsInstance.requestsTotal)
		prometheus.MustRegister(redisMetricsInstance.errorsTotal)
		prometheus.MustRegister(redisMetricsInstance.circuitBreakerState)
	})
}

// NewRedisResilience creates a new Redis resilience wrapper
func NewRedisResilience() *RedisResilience {
	return &RedisResilience{
		state:   CircuitBreakerClosed,
		metrics: redisMetricsInstance,
	}
}

// Execute runs an operation with retry, timeout, and circuit breaker
func (r *RedisResilience) Execute(
	ctx context.Context,
	operation string,
	fn func() error,
) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var lastErr error
	var attempts int
	initialInterval := 100 * time.Millisecond
	maxInterval := 2 * time.Second
	maxElapsedTime := 10 * time.Second
	startTime := time.Now()

	for time.Since(startTime) < maxElapsedTime {
		attempts++

		r.mu.RLock()
		state := r.state
		halfOpenAttempts := r.halfOpenAttempts
		r.mu.RUnlock()

		if state == CircuitBreakerOpen {
			r.metrics.requestsTotal.WithLabelValues(operation, "circuit_breaker_open").Inc()
			return fmt.Errorf("redis temporarily unavailable due to repeated failures (circuit breaker open)")
		}

		if state == CircuitBreakerHalfOpen {
			halfOpenAttempts++
			if halfOpenAttempts > 3 {
				r.mu.Lock()
				r.state = CircuitBreakerClosed
				r.consecutiveFailures = 0
				r.halfOpenAttempts = 0
				r.lastFailureTime = time.Time{}
				r.mu.Unlock()
				logger.Info("redis circuit breaker closed, recovered from half-open state",
					zap.String("operation", operation))
				r.metrics.circuitBreakerState.Set(0)
			}
		}

		if attempts > 1 {
			logger.Warn("redis operation retry",
				zap.String("operation", operation),
				zap.Int("attempt", attempts),
				zap.Error(lastErr))
		}

		err := fn()
		lastErr = err

		if err == nil {
			r.mu.Lock()
			if r.state != CircuitBreakerClosed {
				r.state = CircuitBreakerClosed
				r.consecutiveFailures = 0
				r.halfOpenAttempts = 0
				r.lastFailureTime = time.Time{}
				r.metrics.circuitBreakerState.Set(0)
			}
			r.mu.Unlock()

			r.metrics.requestsTotal.WithLabelValues(operation, "success").Inc()
			return nil
		}

		r.mu.Lock()
		r.consecutiveFailures++
		r.lastFailureTime = time.Now()

		r.metrics.errorsTotal.WithLabelValues(operation, classifyError(err)).Inc()
		r.metrics.requestsTotal.WithLabelValues(operation, "failure").Inc()

		if r.consecutiveFailures >= 3 {
			r.state = CircuitBreakerOpen
			r.metrics.circuitBreakerState.Set(2)
			logger.Error("redis circuit breaker open, too many consecutive failures",
				zap.String("operation", operation),
				zap.Int("consecutive_failures", r.consecutiveFailures))
		}

		if r.consecutiveFailures > 0 && time.Since(r.lastFailureTime) > 10*time.Second {
			r.state = CircuitBreakerHalfOpen
			r.halfOpenAttempts = 0
			r.metrics.circuitBreakerState.Set(1)
		}
		r.mu.Unlock()

		backoff := time.Duration(float64(attempts) * float64(initialInterval))
		if backoff > maxInterval {
			backoff = maxInterval
		}

		select {
		case <-timeoutCtx.Done():
			return fmt.Errorf("redis operation %s timed out: %w", operation, lastErr)
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("redis operation %s failed after %d attempts: %w", operation, attempts, lastErr)
}

// GetCircuitBreakerState returns the current circuit breaker state
func (r *RedisResilience) GetCircuitBreakerState() CircuitBreakerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// classifyError classifies errors for better metrics
func classifyError(err error) string {
	if err == nil {
		return "none"
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "dns"):
		return "dns"
	case strings.Contains(errMsg, "circuit breaker"):
		return "circuit_breaker"
	default:
		return "unknown"
	}
}
