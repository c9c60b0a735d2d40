package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"wildfire_crew/internal/domain"
)

// Observer receives one notification per oracle call, after retries.
type Observer interface {
	ObserveOracleCall(purpose string, elapsed time.Duration, usage domain.Usage, err error)
}

type Policy struct {
	Timeout           time.Duration
	Retries           int
	Backoff           time.Duration
	RequestsPerSecond float64
	Burst             int
	BreakerThreshold  int
	BreakerCooldown   time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.Timeout <= 0 {
		p.Timeout = 90 * time.Second
	}
	if p.Retries < 0 {
		p.Retries = 0
	}
	if p.Backoff <= 0 {
		p.Backoff = 1500 * time.Millisecond
	}
	if p.Burst <= 0 {
		p.Burst = 1
	}
	if p.BreakerThreshold <= 0 {
		p.BreakerThreshold = 5
	}
	if p.BreakerCooldown <= 0 {
		p.BreakerCooldown = 30 * time.Second
	}
	return p
}

// Resilient bounds every call to the wrapped oracle with a timeout, a rate
// limit, a circuit breaker and a fixed number of retries, and accumulates
// usage counters.
type Resilient struct {
	next     Oracle
	policy   Policy
	limiter  *rate.Limiter
	breaker  circuitbreaker.CircuitBreaker[Response]
	retry    retry.Retry[Response]
	observer Observer
	logger   *zap.Logger

	mu    sync.Mutex
	usage domain.Usage
}

func NewResilient(next Oracle, policy Policy, observer Observer, logger *zap.Logger) *Resilient {
	policy = policy.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if policy.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(policy.RequestsPerSecond), policy.Burst)
	}
	threshold := uint32(policy.BreakerThreshold) // #nosec G115 -- positive after defaults
	return &Resilient{
		next:    next,
		policy:  policy,
		limiter: limiter,
		breaker: circuitbreaker.New[Response](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    policy.BreakerCooldown,
			Timeout:     policy.BreakerCooldown,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		}),
		retry: retry.New[Response](retry.Config{
			MaxAttempts:        policy.Retries + 1,
			InitialDelay:       policy.Backoff,
			BackoffPolicy:      retry.BackoffExponential,
			Multiplier:         2.0,
			NonRetryableErrors: []error{domain.ErrNonRetryable},
		}),
		observer: observer,
		logger:   logger.With(zap.String("component", "oracle")),
	}
}

func (r *Resilient) Complete(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, r.policy.Timeout)
	defer cancel()

	attempt := 0
	resp, err := r.breaker.Execute(callCtx, func(ctx context.Context) (Response, error) {
		return r.retry.Do(ctx, func(ctx context.Context) (Response, error) {
			attempt++
			if attempt > 1 {
				r.logger.Info("oracle retry", zap.String("purpose", req.Purpose), zap.Int("attempt", attempt))
			}
			if r.limiter != nil {
				if err := r.limiter.Wait(ctx); err != nil {
					return Response{}, err
				}
			}
			return r.next.Complete(ctx, req)
		})
	})
	if err != nil && ctx.Err() == nil && (errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)) {
		err = fmt.Errorf("%w: %s after %s: %v", domain.ErrOracleTimeout, req.Purpose, r.policy.Timeout, err)
	}
	if err == nil {
		if resp.Usage.Calls == 0 {
			resp.Usage.Calls = 1
		}
		r.mu.Lock()
		r.usage = r.usage.Add(resp.Usage)
		r.mu.Unlock()
	}
	if r.observer != nil {
		r.observer.ObserveOracleCall(req.Purpose, time.Since(start), resp.Usage, err)
	}
	return resp, err
}

// Usage returns the counters accumulated so far.
func (r *Resilient) Usage() domain.Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage
}

func (r *Resilient) BreakerState() string {
	return r.breaker.State().String()
}
