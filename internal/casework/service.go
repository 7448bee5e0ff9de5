// Package casework runs the scoring pipeline end to end and owns the
// analyst workflows built on its output: alerts, cases, notes and SARs.
package casework

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/escalation"
	"github.com/opensource-finance/harrier/internal/explain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/scoring"
	"github.com/opensource-finance/harrier/internal/velocity"
)

// Deps are the collaborators of a Service. Bus and Explainer are optional.
type Deps struct {
	Repo      domain.Repository
	Engine    *rules.Engine
	Scorer    *scoring.Scorer
	Velocity  *velocity.Service
	Policy    *escalation.Policy
	Bus       domain.EventBus
	Explainer *explain.Explainer
}

// Service is safe for concurrent use.
type Service struct {
	repo      domain.Repository
	engine    *rules.Engine
	scorer    *scoring.Scorer
	velocity  *velocity.Service
	policy    *escalation.Policy
	bus       domain.EventBus
	explainer *explain.Explainer

	now   func() time.Time
	newID func() string
}

// NewService creates a casework service.
func NewService(d Deps) *Service {
	if d.Policy == nil {
		d.Policy = escalation.NewPolicy(nil)
	}
	if d.Velocity == nil {
		d.Velocity = velocity.NewService(d.Repo, 0)
	}
	if d.Explainer == nil {
		d.Explainer = explain.New(domain.ExplainConfig{})
	}
	return &Service{
		repo:      d.Repo,
		engine:    d.Engine,
		scorer:    d.Scorer,
		velocity:  d.Velocity,
		policy:    d.Policy,
		bus:       d.Bus,
		explainer: d.Explainer,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.New().String() },
	}
}

// IngestResult is everything produced for one ingested transaction.
type IngestResult struct {
	Transaction *domain.Transaction `json:"transaction"`
	Score       *domain.ScoreResult `json:"score"`
	Alert       *domain.Alert       `json:"alert,omitempty"`
	Case        *domain.Case        `json:"case,omitempty"`
}

// Ingest persists a transaction, scores it and records any escalation.
// The alert and the case are written separately: if the case cannot be
// stored the alert stays, the failure is counted and the error returned
// together with the partial result.
func (s *Service) Ingest(ctx context.Context, tenantID string, req *domain.TransactionRequest) (*IngestResult, error) {
	start := time.Now()
	tx, err := s.prepare(tenantID, req)
	if err != nil {
		return nil, err
	}
	tx.ID = s.newID()

	if err := s.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}

	result := s.scorer.Score(ctx, tx, s.attributes(ctx, tenantID, tx))
	out := &IngestResult{Transaction: tx, Score: result}
	s.publish(ctx, tenantID, domain.TopicTransactionScored, out)

	decision, err := s.policy.Decide(tx, result)
	if err != nil {
		return out, err
	}
	if !decision.Escalates() {
		s.logIngest(tenantID, out, start)
		return out, nil
	}

	now := s.now()
	alert := decision.Alert.Alert(tenantID, s.newID(), now)
	if err := s.repo.SaveAlert(ctx, tenantID, alert); err != nil {
		return out, fmt.Errorf("failed to save alert: %w", err)
	}
	out.Alert = alert
	metrics.AlertsRaised.WithLabelValues(alert.Queue).Inc()
	s.publish(ctx, tenantID, domain.TopicAlertRaised, alert)

	if decision.Case != nil {
		c := decision.Case.Case(tenantID, s.newID(), alert.ID, now)
		if err := s.repo.SaveCase(ctx, tenantID, c); err != nil {
			metrics.EscalationFailures.Inc()
			slog.Error("case creation failed after alert was stored",
				"tenant_id", tenantID,
				"tx_id", tx.ID,
				"alert_id", alert.ID,
				"error", err,
			)
			return out, fmt.Errorf("alert %s stored but case creation failed: %w", alert.ID, err)
		}
		out.Case = c
		metrics.CasesOpened.WithLabelValues("auto").Inc()
		s.publish(ctx, tenantID, domain.TopicCaseOpened, c)
	}

	s.logIngest(tenantID, out, start)
	return out, nil
}

// Score runs the pipeline without persisting anything.
func (s *Service) Score(ctx context.Context, tenantID string, req *domain.TransactionRequest) (*domain.ScoreResult, error) {
	tx, err := s.prepare(tenantID, req)
	if err != nil {
		return nil, err
	}
	return s.scorer.Score(ctx, tx, s.attributes(ctx, tenantID, tx)), nil
}

// GetTransaction returns a stored transaction.
func (s *Service) GetTransaction(ctx context.Context, tenantID, txID string) (*domain.Transaction, error) {
	return s.repo.GetTransaction(ctx, tenantID, txID)
}

func (s *Service) prepare(tenantID string, req *domain.TransactionRequest) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: transaction is required", domain.ErrInvalidInput)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req.ToTransaction(tenantID), nil
}

// attributes derives velocity. A lookup failure leaves the attribute out,
// which makes velocity conditions unsatisfied rather than failing scoring.
func (s *Service) attributes(ctx context.Context, tenantID string, tx *domain.Transaction) domain.Attributes {
	attrs, err := s.velocity.Attributes(ctx, tenantID, tx)
	if err != nil {
		slog.Warn("velocity unavailable",
			"tenant_id", tenantID,
			"customer_id", tx.CustomerID,
			"error", err,
		)
		return domain.Attributes{}
	}
	return attrs
}

func (s *Service) logIngest(tenantID string, out *IngestResult, start time.Time) {
	attrs := []any{
		"tenant_id", tenantID,
		"tx_id", out.Transaction.ID,
		"risk_score", out.Score.RiskScore,
		"risk_level", out.Score.RiskLevel,
		"model", out.Score.Model,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if out.Alert != nil {
		attrs = append(attrs, "alert_id", out.Alert.ID)
	}
	if out.Case != nil {
		attrs = append(attrs, "case_id", out.Case.ID)
	}
	slog.Info("transaction ingested", attrs...)
}

// publish emits a pipeline event. Delivery problems never fail the
// operation that produced the event.
func (s *Service) publish(ctx context.Context, tenantID, topic string, v any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, tenantID, topic, payload); err != nil {
		slog.Error("failed to publish event",
			"tenant_id", tenantID,
			"topic", topic,
			"error", err,
		)
	}
}

// optional turns ErrNotFound into a nil result.
func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return v, err
}
