package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

const alertColumns = `id, tenant_id, transaction_id, risk_score, risk_level, status, queue,
	rule_score, ml_score, triggered_rules, explanation, created_at, updated_at`

// SaveAlert inserts a new alert. The referenced transaction must exist.
func (r *SQLRepository) SaveAlert(ctx context.Context, tenantID string, alert *domain.Alert) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	triggered, err := json.Marshal(alert.TriggeredRules)
	if err != nil {
		return err
	}

	query := `INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, tenantID, alert.TransactionID, alert.RiskScore, string(alert.RiskLevel),
		string(alert.Status), alert.Queue, alert.RuleScore, alert.MLScore, string(triggered),
		alert.Explanation, alert.CreatedAt.UTC(), alert.UpdatedAt.UTC(),
	)
	return mapWriteError(err, "alert "+alert.ID)
}

// GetAlert retrieves an alert with tenant isolation.
func (r *SQLRepository) GetAlert(ctx context.Context, tenantID string, alertID string) (*domain.Alert, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE tenant_id = ? AND id = ?`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

// ListAlerts returns alerts, highest risk first.
func (r *SQLRepository) ListAlerts(ctx context.Context, tenantID string, filter domain.AlertFilter) ([]*domain.Alert, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE tenant_id = ?`
	args := []any{tenantID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Queue != "" {
		query += ` AND queue = ?`
		args = append(args, filter.Queue)
	}
	if filter.MinScore > 0 {
		query += ` AND risk_score >= ?`
		args = append(args, filter.MinScore)
	}
	query += ` ORDER BY risk_score DESC, created_at DESC, id`
	query, args = page(query, args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

// UpdateAlertStatus moves an alert from status from to status to. The
// write only lands if the alert is still in from.
func (r *SQLRepository) UpdateAlertStatus(ctx context.Context, tenantID, alertID string, from, to domain.AlertStatus, at time.Time) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `UPDATE alerts SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ? AND status = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(to), at.UTC(), tenantID, alertID, string(from),
	)
	if err != nil {
		return err
	}
	return r.expectTransition(ctx, result, "alerts", tenantID, alertID)
}

// SetAlertQueue reassigns the alert's review queue.
func (r *SQLRepository) SetAlertQueue(ctx context.Context, tenantID, alertID, queue string, at time.Time) error {
	return r.setAlertColumn(ctx, tenantID, alertID, "queue", queue, at)
}

// SetAlertExplanation stores the alert's narrative.
func (r *SQLRepository) SetAlertExplanation(ctx context.Context, tenantID, alertID, explanation string, at time.Time) error {
	return r.setAlertColumn(ctx, tenantID, alertID, "explanation", explanation, at)
}

func (r *SQLRepository) setAlertColumn(ctx context.Context, tenantID, alertID, column, value string, at time.Time) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `UPDATE alerts SET ` + column + ` = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), value, at.UTC(), tenantID, alertID)
	if err != nil {
		return err
	}
	return expectOne(result)
}

func scanAlert(row rowScanner) (*domain.Alert, error) {
	var alert domain.Alert
	var level, status, triggered string

	if err := row.Scan(
		&alert.ID, &alert.TenantID, &alert.TransactionID, &alert.RiskScore, &level, &status,
		&alert.Queue, &alert.RuleScore, &alert.MLScore, &triggered, &alert.Explanation,
		&alert.CreatedAt, &alert.UpdatedAt,
	); err != nil {
		return nil, err
	}

	alert.RiskLevel = domain.RiskLevel(level)
	alert.Status = domain.AlertStatus(status)
	if err := json.Unmarshal([]byte(triggered), &alert.TriggeredRules); err != nil {
		return nil, err
	}

	return &alert, nil
}

const caseColumns = `id, tenant_id, alert_id, status, analyst_id, created_at, updated_at`

// SaveCase inserts a new case. A second case for the same alert is a
// conflict.
func (r *SQLRepository) SaveCase(ctx context.Context, tenantID string, c *domain.Case) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `INSERT INTO cases (` + caseColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, tenantID, c.AlertID, string(c.Status), c.AnalystID,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	)
	return mapWriteError(err, "case for alert "+c.AlertID)
}

// GetCase retrieves a case with tenant isolation.
func (r *SQLRepository) GetCase(ctx context.Context, tenantID string, caseID string) (*domain.Case, error) {
	return r.getCase(ctx, tenantID, "id", caseID)
}

// GetCaseByAlert retrieves the case opened for an alert.
func (r *SQLRepository) GetCaseByAlert(ctx context.Context, tenantID string, alertID string) (*domain.Case, error) {
	return r.getCase(ctx, tenantID, "alert_id", alertID)
}

func (r *SQLRepository) getCase(ctx context.Context, tenantID, column, value string) (*domain.Case, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + caseColumns + ` FROM cases WHERE tenant_id = ? AND ` + column + ` = ?`

	c, err := scanCase(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListCases returns cases, most recently updated first.
func (r *SQLRepository) ListCases(ctx context.Context, tenantID string, filter domain.CaseFilter) ([]*domain.Case, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + caseColumns + ` FROM cases WHERE tenant_id = ?`
	args := []any{tenantID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.AnalystID != "" {
		query += ` AND analyst_id = ?`
		args = append(args, filter.AnalystID)
	}
	query += ` ORDER BY updated_at DESC, id`
	query, args = page(query, args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}

	return cases, rows.Err()
}

// UpdateCaseStatus moves a case from status from to status to. The write
// only lands if the case is still in from.
func (r *SQLRepository) UpdateCaseStatus(ctx context.Context, tenantID, caseID string, from, to domain.CaseStatus, at time.Time) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `UPDATE cases SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ? AND status = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(to), at.UTC(), tenantID, caseID, string(from),
	)
	if err != nil {
		return err
	}
	return r.expectTransition(ctx, result, "cases", tenantID, caseID)
}

// AssignCase sets the case's analyst and bumps updated_at. Status is
// left alone.
func (r *SQLRepository) AssignCase(ctx context.Context, tenantID, caseID, analystID string, at time.Time) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `UPDATE cases SET analyst_id = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), analystID, at.UTC(), tenantID, caseID)
	if err != nil {
		return err
	}
	return expectOne(result)
}

// CountCasesByStatus returns the number of cases per status.
func (r *SQLRepository) CountCasesByStatus(ctx context.Context, tenantID string) (map[domain.CaseStatus]int, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		r.rebind(`SELECT status, COUNT(*) FROM cases WHERE tenant_id = ? GROUP BY status`), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.CaseStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.CaseStatus(status)] = n
	}

	return counts, rows.Err()
}

func scanCase(row rowScanner) (*domain.Case, error) {
	var c domain.Case
	var status string

	if err := row.Scan(&c.ID, &c.TenantID, &c.AlertID, &status, &c.AnalystID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = domain.CaseStatus(status)

	return &c, nil
}

// AddCaseNote appends a note and bumps the case's updated_at in one
// transaction.
func (r *SQLRepository) AddCaseNote(ctx context.Context, tenantID string, note *domain.CaseNote) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, r.rebind(`UPDATE cases SET updated_at = ? WHERE tenant_id = ? AND id = ?`),
		note.CreatedAt.UTC(), tenantID, note.CaseID)
	if err != nil {
		return err
	}
	if err := expectOne(result); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, r.rebind(`
		INSERT INTO case_notes (id, tenant_id, case_id, analyst_id, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), note.ID, tenantID, note.CaseID, note.AnalystID, note.Note, note.CreatedAt.UTC())
	if err != nil {
		return mapWriteError(err, "note "+note.ID)
	}

	return tx.Commit()
}

// ListCaseNotes returns a case's notes, oldest first.
func (r *SQLRepository) ListCaseNotes(ctx context.Context, tenantID string, caseID string) ([]*domain.CaseNote, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, case_id, analyst_id, note, created_at
		FROM case_notes
		WHERE tenant_id = ? AND case_id = ?
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []*domain.CaseNote
	for rows.Next() {
		var n domain.CaseNote
		if err := rows.Scan(&n.ID, &n.TenantID, &n.CaseID, &n.AnalystID, &n.Note, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, &n)
	}

	return notes, rows.Err()
}
