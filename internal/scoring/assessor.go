package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

var (
	// ErrInvalidAssessment is returned when an assessor result is out of range.
	ErrInvalidAssessment = errors.New("assessor returned an invalid result")
	// ErrAssessorUnavailable is returned when the breaker rejects a call.
	ErrAssessorUnavailable = errors.New("assessor unavailable")
)

// Assessor scores content with an external model. Implementations fill the
// scoring fields (RiskScore, Categories, Confidence, Verdict, Recommendation,
// Explanation, RedFlags); the engine fills provenance and severity.
type Assessor interface {
	Assess(ctx context.Context, req *domain.ScanRequest) (*domain.ScoredItem, error)
}

// AssessorFunc adapts a function to the Assessor interface.
type AssessorFunc func(ctx context.Context, req *domain.ScanRequest) (*domain.ScoredItem, error)

// Assess calls f.
func (f AssessorFunc) Assess(ctx context.Context, req *domain.ScanRequest) (*domain.ScoredItem, error) {
	return f(ctx, req)
}

const breakerName = "assessor"

// GuardedAssessor wraps an Assessor with a timeout, a circuit breaker and a
// fingerprint-keyed result cache.
type GuardedAssessor struct {
	inner   Assessor
	cb      *gobreaker.CircuitBreaker[*domain.ScoredItem]
	cache   domain.Cache
	timeout time.Duration
	ttl     time.Duration
}

// NewGuardedAssessor wraps inner. cache may be nil.
func NewGuardedAssessor(inner Assessor, cache domain.Cache, cfg domain.ScoringConfig) *GuardedAssessor {
	timeout := cfg.AssessorTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	failures := cfg.AssessorFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.AssessorCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(float64(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker[*domain.ScoredItem](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &GuardedAssessor{
		inner:   inner,
		cb:      cb,
		cache:   cache,
		timeout: timeout,
		ttl:     cfg.ResultTTL,
	}
}

// State returns the breaker state.
func (g *GuardedAssessor) State() gobreaker.State {
	return g.cb.State()
}

// Assess returns a cached result when one exists, otherwise calls the inner
// assessor through the breaker. Errors are reported to the caller so it can
// fall back; they are also counted by reason.
func (g *GuardedAssessor) Assess(ctx context.Context, req *domain.ScanRequest) (*domain.ScoredItem, error) {
	fp := req.Fingerprint()
	if g.cache != nil {
		if cached, err := g.cache.GetScore(ctx, fp); err == nil && cached != nil {
			return cached, nil
		}
	}

	item, err := g.cb.Execute(func() (*domain.ScoredItem, error) {
		return g.call(ctx, req)
	})
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			reason = "open"
			err = fmt.Errorf("%w: %w", ErrAssessorUnavailable, err)
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		case errors.Is(err, ErrInvalidAssessment):
			reason = "invalid"
		}
		metrics.AssessorFallbacks.WithLabelValues(reason).Inc()
		return nil, err
	}

	if g.cache != nil && g.ttl > 0 {
		if err := g.cache.SetScore(ctx, fp, item, g.ttl); err != nil {
			slog.Debug("failed to cache assessment", "fingerprint", fp, "error", err)
		}
	}
	return item, nil
}

// call runs the inner assessor under the per-call timeout. An assessor that
// ignores its context is abandoned when the deadline passes.
func (g *GuardedAssessor) call(ctx context.Context, req *domain.ScanRequest) (*domain.ScoredItem, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		item *domain.ScoredItem
		err  error
	}
	done := make(chan result, 1)
	go func() {
		item, err := g.inner.Assess(cctx, req)
		done <- result{item, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if err := checkAssessment(r.item); err != nil {
			return nil, err
		}
		return r.item, nil
	case <-cctx.Done():
		return nil, cctx.Err()
	}
}

func checkAssessment(item *domain.ScoredItem) error {
	switch {
	case item == nil:
		return fmt.Errorf("%w: nil result", ErrInvalidAssessment)
	case item.RiskScore < 0 || item.RiskScore > 100:
		return fmt.Errorf("%w: risk score %d", ErrInvalidAssessment, item.RiskScore)
	case item.Confidence < 0 || item.Confidence > 100:
		return fmt.Errorf("%w: confidence %d", ErrInvalidAssessment, item.Confidence)
	}
	return nil
}
