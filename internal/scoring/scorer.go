// Package scoring fuses the rule score and the model probability into a
// single risk score and classifies it into a risk level.
package scoring

import (
	"context"
	"math"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/estimator"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Fusion weights, in tenths: risk = 0.4*rule + 0.6*ml.
const (
	ruleWeight = 4
	mlWeight   = 6
)

var tracer = otel.Tracer("harrier-scoring")

// ProbabilitySource is the estimator capability the scorer needs.
// *estimator.Guarded satisfies it and never fails.
type ProbabilitySource interface {
	Estimate(ctx context.Context, tx *domain.Transaction) estimator.Estimate
}

// Scorer combines the rule engine and the estimator. It holds no mutable
// state and is safe for concurrent use.
type Scorer struct {
	engine *rules.Engine
	model  ProbabilitySource
}

// NewScorer creates a scorer.
func NewScorer(engine *rules.Engine, model ProbabilitySource) *Scorer {
	return &Scorer{engine: engine, model: model}
}

// Score evaluates rules and the model concurrently and fuses the results.
// Identical inputs against an unchanged rule snapshot and model yield
// identical results. A nil transaction scores as an empty one.
func (s *Scorer) Score(ctx context.Context, tx *domain.Transaction, attrs domain.Attributes) *domain.ScoreResult {
	start := time.Now()
	if tx == nil {
		tx = &domain.Transaction{}
	}
	ctx, span := tracer.Start(ctx, "scoring.Score",
		trace.WithAttributes(attribute.String("tx.id", tx.ExternalID)),
	)
	defer span.End()

	estCh := make(chan estimator.Estimate, 1)
	go func() {
		estCh <- s.model.Estimate(ctx, tx)
	}()

	ruleEval := s.engine.Evaluate(tx, attrs)
	est := <-estCh

	riskScore, mlScore := Fuse(ruleEval.TotalRuleScore, est.Probability)
	result := &domain.ScoreResult{
		RiskScore:      riskScore,
		RiskLevel:      Classify(riskScore),
		RuleScore:      ruleEval.TotalRuleScore,
		MLScore:        mlScore,
		TriggeredRules: ruleEval.TriggeredRules,
		Model:          est.Model,
		Fallback:       est.Fallback,
	}

	span.SetAttributes(
		attribute.Int("risk.score", result.RiskScore),
		attribute.String("risk.level", string(result.RiskLevel)),
		attribute.Int("risk.rule_score", result.RuleScore),
		attribute.Int("risk.ml_score", result.MLScore),
		attribute.Bool("model.fallback", result.Fallback),
	)
	metrics.TransactionsScored.WithLabelValues(string(result.RiskLevel)).Inc()
	metrics.ScoringDuration.Observe(time.Since(start).Seconds())

	return result
}

// Fuse converts the probability to an ML score (round(p*100)) and blends it
// with the rule score as floor(0.4*rule + 0.6*ml). Integer arithmetic keeps
// the floor exact.
func Fuse(ruleScore int, probability float64) (riskScore, mlScore int) {
	ruleScore = clamp(ruleScore)
	if math.IsNaN(probability) {
		probability = 0
	}
	mlScore = clamp(int(math.Round(probability * 100)))
	riskScore = clamp((ruleWeight*ruleScore + mlWeight*mlScore) / 10)
	return riskScore, mlScore
}

// Classify maps a score to its risk level. Lower bounds are inclusive.
func Classify(score int) domain.RiskLevel {
	switch {
	case score >= 91:
		return domain.RiskVeryHigh
	case score >= 71:
		return domain.RiskHigh
	case score >= 51:
		return domain.RiskMedium
	case score >= 11:
		return domain.RiskLow
	}
	return domain.RiskVeryLow
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
