package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

const sarColumns = `id, tenant_id, number, case_id, customer_name, amount, status, description,
	filing_date, created_at, updated_at`

// SaveSAR inserts a new SAR. A duplicate number or a second SAR for the
// same case is a conflict.
func (r *SQLRepository) SaveSAR(ctx context.Context, tenantID string, sar *domain.SAR) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `INSERT INTO sars (` + sarColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		sar.ID, tenantID, sar.Number, sar.CaseID, sar.CustomerName, sar.Amount.String(),
		string(sar.Status), sar.Description, nullableTime(sar.FilingDate),
		sar.CreatedAt.UTC(), sar.UpdatedAt.UTC(),
	)
	return mapWriteError(err, "SAR "+sar.Number)
}

// GetSAR retrieves a SAR with tenant isolation.
func (r *SQLRepository) GetSAR(ctx context.Context, tenantID string, sarID string) (*domain.SAR, error) {
	return r.getSAR(ctx, tenantID, "id", sarID)
}

// GetSARByCase retrieves the SAR derived from a case.
func (r *SQLRepository) GetSARByCase(ctx context.Context, tenantID string, caseID string) (*domain.SAR, error) {
	return r.getSAR(ctx, tenantID, "case_id", caseID)
}

func (r *SQLRepository) getSAR(ctx context.Context, tenantID, column, value string) (*domain.SAR, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + sarColumns + ` FROM sars WHERE tenant_id = ? AND ` + column + ` = ?`

	sar, err := scanSAR(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sar, err
}

// ListSARs returns SARs, newest first.
func (r *SQLRepository) ListSARs(ctx context.Context, tenantID string, filter domain.SARFilter) ([]*domain.SAR, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + sarColumns + ` FROM sars WHERE tenant_id = ?`
	args := []any{tenantID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		query += ` AND (LOWER(number) LIKE ? OR LOWER(customer_name) LIKE ? OR LOWER(description) LIKE ?)`
		args = append(args, like, like, like)
	}
	query += ` ORDER BY created_at DESC, number DESC`
	query, args = page(query, args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sars []*domain.SAR
	for rows.Next() {
		sar, err := scanSAR(rows)
		if err != nil {
			return nil, err
		}
		sars = append(sars, sar)
	}

	return sars, rows.Err()
}

// UpdateSAR persists the editable SAR fields. The write only lands if the
// stored status is still expected, so a SAR filed meanwhile is never
// rewritten. Filing goes through FileSAR.
func (r *SQLRepository) UpdateSAR(ctx context.Context, tenantID string, sar *domain.SAR, expected domain.SARStatus) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		UPDATE sars SET customer_name = ?, amount = ?, status = ?, description = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		sar.CustomerName, sar.Amount.String(), string(sar.Status), sar.Description, sar.UpdatedAt.UTC(),
		tenantID, sar.ID, string(expected),
	)
	if err != nil {
		return err
	}
	return r.expectTransition(ctx, result, "sars", tenantID, sar.ID)
}

// CountSARs returns the number of SARs a tenant has ever created.
func (r *SQLRepository) CountSARs(ctx context.Context, tenantID string) (int, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}

	var n int
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*) FROM sars WHERE tenant_id = ?`), tenantID).Scan(&n)
	return n, err
}

// SARStats counts SARs per status.
func (r *SQLRepository) SARStats(ctx context.Context, tenantID string) (*domain.SARStats, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		r.rebind(`SELECT status, COUNT(*) FROM sars WHERE tenant_id = ? GROUP BY status`), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &domain.SARStats{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch domain.SARStatus(status) {
		case domain.SARDraft:
			stats.Draft = n
		case domain.SARPending:
			stats.Pending = n
		case domain.SARFiled:
			stats.Filed = n
		}
		stats.Total += n
	}

	return stats, rows.Err()
}

// FileSAR marks the SAR filed and moves its case to "SAR Filed" in one
// transaction. Either both rows change or neither does.
func (r *SQLRepository) FileSAR(ctx context.Context, tenantID string, sarID string, caseID string, filedAt time.Time) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	filedAt = filedAt.UTC()

	result, err := tx.ExecContext(ctx, r.rebind(`
		UPDATE sars SET status = ?, filing_date = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND case_id = ? AND status <> ?
	`), string(domain.SARFiled), filedAt, filedAt, tenantID, sarID, caseID, string(domain.SARFiled))
	if err != nil {
		return err
	}
	if err := expectOne(result); err != nil {
		return fmt.Errorf("%w: SAR %s is not fileable", domain.ErrIllegalTransition, sarID)
	}

	result, err = tx.ExecContext(ctx, r.rebind(`
		UPDATE cases SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND status IN (?, ?)
	`), string(domain.CaseSARFiled), filedAt, tenantID, caseID, string(domain.CaseOpen), string(domain.CaseInProgress))
	if err != nil {
		return err
	}
	if err := expectOne(result); err != nil {
		return fmt.Errorf("%w: case %s is no longer open", domain.ErrIllegalTransition, caseID)
	}

	return tx.Commit()
}

func scanSAR(row rowScanner) (*domain.SAR, error) {
	var sar domain.SAR
	var amount, status string
	var filed sql.NullTime

	if err := row.Scan(
		&sar.ID, &sar.TenantID, &sar.Number, &sar.CaseID, &sar.CustomerName, &amount, &status,
		&sar.Description, &filed, &sar.CreatedAt, &sar.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if sar.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	sar.Status = domain.SARStatus(status)
	if filed.Valid {
		t := filed.Time.UTC()
		sar.FilingDate = &t
	}

	return &sar, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
