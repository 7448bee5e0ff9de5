package estimator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
)

// Estimate is a probability together with its provenance.
type Estimate struct {
	Probability float64
	Model       string
	Fallback    bool
}

// Guarded wraps an estimator so that prediction never fails. A missing
// model, an error, a panic, a non-finite result or an expired deadline all
// produce the heuristic probability instead.
type Guarded struct {
	name    string
	primary Estimator
	timeout time.Duration
}

// NewGuarded wraps primary. A non-nil loadErr, or a nil primary, means the
// model is unavailable and every prediction uses the heuristic.
func NewGuarded(name string, primary Estimator, loadErr error, timeout time.Duration) *Guarded {
	if loadErr != nil {
		slog.Warn("model unavailable, using heuristic fallback", "model", name, "error", loadErr)
		primary = nil
	}
	return &Guarded{name: name, primary: primary, timeout: timeout}
}

// Name returns the configured model kind.
func (g *Guarded) Name() string { return g.name }

// Available reports whether a real model backs this estimator.
func (g *Guarded) Available() bool { return g.primary != nil }

// Predict implements Estimator. The error is always nil.
func (g *Guarded) Predict(ctx context.Context, tx *domain.Transaction) (float64, error) {
	return g.Estimate(ctx, tx).Probability, nil
}

// Estimate predicts with the wrapped model, falling back to the heuristic.
func (g *Guarded) Estimate(ctx context.Context, tx *domain.Transaction) Estimate {
	if g.primary == nil {
		return g.fallback(tx, "unavailable")
	}

	p, err := g.run(ctx, tx)
	if err != nil {
		slog.Debug("model prediction failed", "model", g.name, "error", err)
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		return g.fallback(tx, reason)
	}
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return g.fallback(tx, "invalid")
	}
	return Estimate{Probability: clampProbability(p), Model: g.name}
}

func (g *Guarded) run(ctx context.Context, tx *domain.Transaction) (float64, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	type result struct {
		p   float64
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("model panicked: %v", r)}
			}
		}()
		p, err := g.primary.Predict(ctx, tx)
		done <- result{p: p, err: err}
	}()

	select {
	case r := <-done:
		return r.p, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (g *Guarded) fallback(tx *domain.Transaction, reason string) Estimate {
	if g.name != KindHeuristic {
		metrics.EstimatorFallbacks.WithLabelValues(g.name, reason).Inc()
	}
	return Estimate{
		Probability: HeuristicProbability(tx),
		Model:       KindHeuristic,
		Fallback:    g.name != KindHeuristic,
	}
}

func clampProbability(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
