package capability

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/digest-engine/internal/config"
	"github.com/sells-group/digest-engine/internal/cost"
	"github.com/sells-group/digest-engine/internal/model"
	"github.com/sells-group/digest-engine/internal/resilience"
)

// GuardOptions bound every call through a Guard.
type GuardOptions struct {
	RPM     int
	Burst   int
	Timeout time.Duration
	Retry   resilience.RetryConfig
	Circuit resilience.CircuitBreakerConfig
	// Budget, when set, is consulted before each attempt.
	Budget *cost.Tracker
}

// GuardOptionsFromConfig maps the evaluation settings onto GuardOptions.
func GuardOptionsFromConfig(cfg config.EvaluationConfig, tracker *cost.Tracker) GuardOptions {
	return GuardOptions{
		RPM:     cfg.RPM,
		Burst:   cfg.Burst,
		Timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
		Retry: resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs,
			cfg.Retry.MaxBackoffMs, cfg.Retry.Multiplier, cfg.Retry.JitterFraction),
		Circuit: resilience.FromCircuitConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs),
		Budget:  tracker,
	}
}

// Guard decorates a Capability with a requests-per-minute limiter, a hard
// per-call timeout, bounded retry, a circuit breaker and a spend ceiling.
// A call that exhausts all of these surfaces its last error to the caller,
// which applies the fail-closed policy.
type Guard struct {
	inner   Capability
	limiter *rate.Limiter
	timeout time.Duration
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	budget  *cost.Tracker
}

var (
	_ Capability           = (*Guard)(nil)
	_ BatchEntityExtractor = (*Guard)(nil)
)

// NewGuard wraps inner.
func NewGuard(inner Capability, opts GuardOptions) *Guard {
	rpm := opts.RPM
	if rpm <= 0 {
		rpm = 50
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	circuit := opts.Circuit
	circuit.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("capability: circuit state change",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return &Guard{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst),
		timeout: timeout,
		retry:   opts.Retry,
		breaker: resilience.NewCircuitBreaker(circuit),
		budget:  opts.Budget,
	}
}

// Breaker exposes the circuit breaker state for reporting.
func (g *Guard) Breaker() *resilience.CircuitBreaker { return g.breaker }

func guarded[T any](ctx context.Context, g *Guard, op string, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	retry := g.retry
	retry.OnRetry = resilience.RetryLogger("capability", op)

	return resilience.DoVal(ctx, retry, func(ctx context.Context) (T, error) {
		var zero T
		if g.budget != nil && g.budget.Exhausted() {
			return zero, resilience.ErrBudgetExhausted
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return zero, eris.Wrapf(err, "capability: %s: rate limit wait", op)
		}
		return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (T, error) {
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return fn(ctx)
		})
	})
}

// ScreenBatch forwards one guarded screening call.
func (g *Guard) ScreenBatch(ctx context.Context, reqs []ScreenRequest) ([]ScreenResult, error) {
	return guarded(ctx, g, "screen", g.timeout, func(ctx context.Context) ([]ScreenResult, error) {
		return g.inner.ScreenBatch(ctx, reqs)
	})
}

// Evaluate forwards one guarded evaluation call.
func (g *Guard) Evaluate(ctx context.Context, req EvalRequest) (EvalResult, error) {
	return guarded(ctx, g, "evaluate", g.timeout, func(ctx context.Context) (EvalResult, error) {
		return g.inner.Evaluate(ctx, req)
	})
}

// ExtractEntities forwards one guarded extraction call.
func (g *Guard) ExtractEntities(ctx context.Context, req EntityRequest) (model.Entities, error) {
	return guarded(ctx, g, "entities", g.timeout, func(ctx context.Context) (model.Entities, error) {
		return g.inner.ExtractEntities(ctx, req)
	})
}

// ExtractEntitiesBatch forwards to the inner batch extractor. The batch is
// one submission, so it takes one limiter token and is never retried as a
// whole; its duration is bounded by the batch poll timeout, not the per-call
// timeout.
func (g *Guard) ExtractEntitiesBatch(ctx context.Context, reqs []EntityRequest) (map[string]model.Entities, error) {
	be, ok := g.inner.(BatchEntityExtractor)
	if !ok {
		return nil, eris.New("capability: batch extraction not supported")
	}
	if g.budget != nil && g.budget.Exhausted() {
		return nil, resilience.ErrBudgetExhausted
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "capability: entities batch: rate limit wait")
	}
	return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (map[string]model.Entities, error) {
		return be.ExtractEntitiesBatch(ctx, reqs)
	})
}

// SupportsBatch reports whether the wrapped capability can batch entity
// extraction.
func (g *Guard) SupportsBatch() bool {
	_, ok := g.inner.(BatchEntityExtractor)
	return ok
}
