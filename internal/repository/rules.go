package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

const ruleColumns = `id, tenant_id, name, description, score_impact, action, active, priority,
	conditions, expression, created_at, updated_at`

// SaveRule inserts or updates a rule with tenant isolation.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.Rule) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return err
	}

	active := 0
	if rule.Active {
		active = 1
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	rule.TenantID = tenantID

	query := `
		INSERT INTO rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			score_impact = excluded.score_impact,
			action = excluded.action,
			active = excluded.active,
			priority = excluded.priority,
			conditions = excluded.conditions,
			expression = excluded.expression,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description, rule.ScoreImpact, string(rule.Action),
		active, rule.Priority, string(conditions), rule.Expression,
		rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// GetRule retrieves a rule with tenant isolation.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, ruleID string) (*domain.Rule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + ` FROM rules WHERE tenant_id = ? AND id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRules returns every rule of a tenant, active or not, in priority order.
func (r *SQLRepository) ListRules(ctx context.Context, tenantID string) ([]*domain.Rule, error) {
	return r.listRules(ctx, tenantID, false)
}

// ListActiveRules returns the active rules of a tenant in priority order.
func (r *SQLRepository) ListActiveRules(ctx context.Context, tenantID string) ([]*domain.Rule, error) {
	return r.listRules(ctx, tenantID, true)
}

func (r *SQLRepository) listRules(ctx context.Context, tenantID string, activeOnly bool) ([]*domain.Rule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + ` FROM rules WHERE tenant_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY priority, created_at, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// DeleteRule removes a rule with tenant isolation.
func (r *SQLRepository) DeleteRule(ctx context.Context, tenantID string, ruleID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM rules WHERE tenant_id = ? AND id = ?`), tenantID, ruleID)
	if err != nil {
		return err
	}
	return expectOne(result)
}

func scanRule(row rowScanner) (*domain.Rule, error) {
	var rule domain.Rule
	var action, conditions string
	var active int

	if err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description, &rule.ScoreImpact, &action,
		&active, &rule.Priority, &conditions, &rule.Expression,
		&rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Action = domain.RuleAction(action)
	rule.Active = active == 1
	rule.Conditions = domain.ParseConditions([]byte(conditions))

	return &rule, nil
}
