package rules

import "github.com/opensource-finance/harrier/internal/domain"

// BaselineRules returns the starter rule set seeded into an empty store.
// The "Category Mismatch" condition is not an operator object and is
// skipped at evaluation; it stays so analysts can see and fix it.
func BaselineRules() []*domain.Rule {
	return []*domain.Rule{
		{
			Name:        "High Value Transaction",
			Description: "Transaction amount exceeds 5000",
			ScoreImpact: 50,
			Action:      domain.ActionReview,
			Active:      true,
			Priority:    1,
			Conditions:  domain.ParseConditions([]byte(`{"amount": {">": 5000}}`)),
		},
		{
			Name:        "Velocity Check",
			Description: "More than 3 transactions from the same customer in 10 minutes",
			ScoreImpact: 70,
			Action:      domain.ActionDeny,
			Active:      true,
			Priority:    2,
			Conditions:  domain.ParseConditions([]byte(`{"velocity": {">": 3, "window": "10m"}}`)),
		},
		{
			Name:        "Category Mismatch",
			Description: "Email domain does not match the customer's profile",
			ScoreImpact: 40,
			Action:      domain.ActionReview,
			Active:      true,
			Priority:    3,
			Conditions:  domain.ParseConditions([]byte(`{"email_mismatch": true}`)),
		},
	}
}
