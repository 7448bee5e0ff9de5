// Package escalation decides which review artifacts a scored transaction
// produces and which lifecycle changes analysts may make. It performs no
// I/O: callers persist what it returns.
package escalation

import (
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Thresholds are strict: a score must exceed them. They are deliberately
// independent of the risk-level boundaries, so a score of 90 is "High",
// raises an alert, and opens no case.
const (
	AlertThreshold = 50
	CaseThreshold  = 90

	// HighProfileScore routes alerts at or above it to the high profile queue.
	HighProfileScore = 90

	// MaxAlertScore is the largest risk score recorded on an alert.
	MaxAlertScore = 99
)

// QueuePolicy picks the queue for a new alert.
type QueuePolicy func(riskScore int) string

// DefaultQueue sends very high scores to the high profile queue and
// everything else to the general queue.
func DefaultQueue(riskScore int) string {
	if riskScore >= HighProfileScore {
		return domain.QueueHighProfile
	}
	return domain.QueueGeneral
}

// AlertDraft is an alert that has not been persisted yet.
type AlertDraft struct {
	TransactionID  string
	RiskScore      int
	RiskLevel      domain.RiskLevel
	Queue          string
	RuleScore      int
	MLScore        int
	TriggeredRules []domain.TriggeredRule
}

// Alert materializes the draft as a Pending alert.
func (d *AlertDraft) Alert(tenantID, id string, now time.Time) *domain.Alert {
	return &domain.Alert{
		ID:             id,
		TenantID:       tenantID,
		TransactionID:  d.TransactionID,
		RiskScore:      d.RiskScore,
		RiskLevel:      d.RiskLevel,
		Status:         domain.AlertPending,
		Queue:          d.Queue,
		RuleScore:      d.RuleScore,
		MLScore:        d.MLScore,
		TriggeredRules: d.TriggeredRules,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// CaseDraft is a case to be opened for the alert of the same decision.
type CaseDraft struct{}

// Case materializes the draft as an Open case linked to alertID.
func (CaseDraft) Case(tenantID, id, alertID string, now time.Time) *domain.Case {
	return &domain.Case{
		ID:        id,
		TenantID:  tenantID,
		AlertID:   alertID,
		Status:    domain.CaseOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Decision lists the artifacts to create. A case draft is only ever
// present together with an alert draft.
type Decision struct {
	Alert *AlertDraft
	Case  *CaseDraft
}

// Escalates reports whether anything needs to be persisted.
func (d *Decision) Escalates() bool { return d != nil && d.Alert != nil }

// Policy applies the thresholds with a configurable queue policy.
type Policy struct {
	queue QueuePolicy
}

// NewPolicy creates a policy. A nil queue policy uses DefaultQueue.
func NewPolicy(queue QueuePolicy) *Policy {
	if queue == nil {
		queue = DefaultQueue
	}
	return &Policy{queue: queue}
}

var defaultPolicy = NewPolicy(nil)

// Decide applies the default policy.
func Decide(tx *domain.Transaction, result *domain.ScoreResult) (*Decision, error) {
	return defaultPolicy.Decide(tx, result)
}

// Decide returns the drafts for a scored transaction: an alert when the
// score exceeds AlertThreshold, and also a case when it exceeds
// CaseThreshold.
func (p *Policy) Decide(tx *domain.Transaction, result *domain.ScoreResult) (*Decision, error) {
	if tx == nil || result == nil {
		return nil, fmt.Errorf("%w: transaction and score result are required", domain.ErrInvalidInput)
	}
	if tx.ID == "" {
		return nil, fmt.Errorf("%w: transaction must be persisted before escalation", domain.ErrInvalidInput)
	}

	d := &Decision{}
	if result.RiskScore <= AlertThreshold {
		return d, nil
	}

	score := result.RiskScore
	if score > MaxAlertScore {
		score = MaxAlertScore
	}
	d.Alert = &AlertDraft{
		TransactionID:  tx.ID,
		RiskScore:      score,
		RiskLevel:      result.RiskLevel,
		Queue:          p.queue(result.RiskScore),
		RuleScore:      result.RuleScore,
		MLScore:        result.MLScore,
		TriggeredRules: result.TriggeredRules,
	}
	if result.RiskScore > CaseThreshold {
		d.Case = &CaseDraft{}
	}
	return d, nil
}
