package casework

import (
	"context"
	"fmt"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/escalation"
	"github.com/opensource-finance/harrier/internal/explain"
	"github.com/opensource-finance/harrier/internal/metrics"
)

// ListAlerts returns alerts ordered by descending risk score.
func (s *Service) ListAlerts(ctx context.Context, tenantID string, filter domain.AlertFilter) ([]*domain.Alert, error) {
	return s.repo.ListAlerts(ctx, tenantID, filter)
}

// GetAlert returns one alert.
func (s *Service) GetAlert(ctx context.Context, tenantID, alertID string) (*domain.Alert, error) {
	return s.repo.GetAlert(ctx, tenantID, alertID)
}

// ActOnAlert records an analyst decision (Reviewed or Dismissed) on a
// Pending alert.
func (s *Service) ActOnAlert(ctx context.Context, tenantID, alertID string, action domain.AlertStatus) (*domain.Alert, error) {
	alert, err := s.repo.GetAlert(ctx, tenantID, alertID)
	if err != nil {
		return nil, err
	}
	if err := escalation.AlertAction(alert.Status, action); err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.repo.UpdateAlertStatus(ctx, tenantID, alertID, alert.Status, action, now); err != nil {
		return nil, err
	}
	alert.Status = action
	alert.UpdatedAt = now
	return alert, nil
}

// AssignAlertQueue moves an alert to another review queue.
func (s *Service) AssignAlertQueue(ctx context.Context, tenantID, alertID, queue string) (*domain.Alert, error) {
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return nil, fmt.Errorf("%w: queue is required", domain.ErrInvalidInput)
	}
	if err := s.repo.SetAlertQueue(ctx, tenantID, alertID, queue, s.now()); err != nil {
		return nil, err
	}
	return s.repo.GetAlert(ctx, tenantID, alertID)
}

// ExplainAlert writes a narrative for the alert and stores it. Only the
// explanation is written back; analyst changes made during the model call
// are kept.
func (s *Service) ExplainAlert(ctx context.Context, tenantID, alertID string) (*explain.Explanation, error) {
	alert, err := s.repo.GetAlert(ctx, tenantID, alertID)
	if err != nil {
		return nil, err
	}
	tx, err := optional(s.repo.GetTransaction(ctx, tenantID, alert.TransactionID))
	if err != nil {
		return nil, err
	}

	exp := s.explainer.Explain(ctx, alert, tx)
	if err := s.repo.SetAlertExplanation(ctx, tenantID, alertID, exp.Text, s.now()); err != nil {
		return nil, err
	}
	return &exp, nil
}

// OpenCase opens a case for an alert that did not get one automatically.
func (s *Service) OpenCase(ctx context.Context, tenantID, alertID, analystID string) (*domain.Case, error) {
	alert, err := s.repo.GetAlert(ctx, tenantID, alertID)
	if err != nil {
		return nil, err
	}
	existing, err := optional(s.repo.GetCaseByAlert(ctx, tenantID, alertID))
	if err != nil {
		return nil, err
	}
	if err := escalation.CanOpenCase(alert, existing); err != nil {
		return nil, err
	}

	c := escalation.CaseDraft{}.Case(tenantID, s.newID(), alert.ID, s.now())
	c.AnalystID = strings.TrimSpace(analystID)
	if err := s.repo.SaveCase(ctx, tenantID, c); err != nil {
		return nil, err
	}
	metrics.CasesOpened.WithLabelValues("manual").Inc()
	s.publish(ctx, tenantID, domain.TopicCaseOpened, c)
	return c, nil
}
