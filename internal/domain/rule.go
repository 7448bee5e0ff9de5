package domain

import (
	"fmt"
	"strings"
	"time"
)

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// RuleAction is an advisory hint recorded on a rule. It does not change
// scoring.
type RuleAction string

const (
	ActionReview  RuleAction = "Review"
	ActionDeny    RuleAction = "Deny"
	ActionApprove RuleAction = "Approve"
)

// Rule is a named, prioritized detection rule.
type Rule struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenantId"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	ScoreImpact int        `json:"scoreImpact"`
	Action      RuleAction `json:"action"`
	Active      bool       `json:"active"`

	// Priority orders evaluation; lower runs first. It never affects the score.
	Priority int `json:"priority"`

	Conditions Conditions `json:"conditions"`

	// Expression is an optional CEL guard that must also hold for the rule
	// to trigger.
	Expression string `json:"expression,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the fields a rule needs before it can be stored.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: rule name is required", ErrInvalidInput)
	}
	switch r.Action {
	case "":
		r.Action = ActionReview
	case ActionReview, ActionDeny, ActionApprove:
	default:
		return fmt.Errorf("%w: unknown rule action %q", ErrInvalidInput, r.Action)
	}
	if r.Conditions.Empty() && strings.TrimSpace(r.Expression) == "" {
		return fmt.Errorf("%w: rule %q has no usable conditions", ErrInvalidInput, r.Name)
	}
	return nil
}

// TriggeredRule records a rule that fired for a transaction.
type TriggeredRule struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ScoreImpact int    `json:"scoreImpact"`
}

// RuleEvaluation is the rule engine's verdict for one transaction.
type RuleEvaluation struct {
	TotalRuleScore int             `json:"totalRuleScore"`
	TriggeredRules []TriggeredRule `json:"triggeredRules"`
}
