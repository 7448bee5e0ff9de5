package repository

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, tenant_id, external_id, amount, customer_id, merchant_id, category, type,
	old_balance_orig, new_balance_orig, old_balance_dest, new_balance_dest, occurred_at, created_at`

// SaveTransaction stores a transaction with tenant isolation.
// Transactions are immutable: saving an existing ID, or an external ID the
// tenant already submitted, is a conflict.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.ExternalID, tx.Amount.String(), tx.CustomerID, tx.MerchantID,
		tx.Category, tx.Type,
		nullableDecimal(tx.OldBalanceOrig), nullableDecimal(tx.NewBalanceOrig),
		nullableDecimal(tx.OldBalanceDest), nullableDecimal(tx.NewBalanceDest),
		tx.Timestamp.UTC().UnixNano(), tx.CreatedAt.UTC(),
	)
	return mapWriteError(err, "transaction "+tx.ExternalID)
}

// GetTransaction retrieves a transaction with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE tenant_id = ? AND id = ?`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// CountCustomerTransactions counts a customer's transactions with
// since <= timestamp < until.
func (r *SQLRepository) CountCustomerTransactions(ctx context.Context, tenantID string, customerID int64, since, until time.Time) (int64, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}

	query := `
		SELECT COUNT(*) FROM transactions
		WHERE tenant_id = ? AND customer_id = ? AND occurred_at >= ? AND occurred_at < ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		tenantID, customerID, since.UTC().UnixNano(), until.UTC().UnixNano(),
	).Scan(&count)
	return count, err
}

// ListTransactionActivity returns transactions with from <= timestamp < to,
// joined with their alert. Zero bounds are open.
func (r *SQLRepository) ListTransactionActivity(ctx context.Context, tenantID string, from, to time.Time) ([]*domain.TransactionActivity, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
	if !from.IsZero() {
		lo = from.UTC().UnixNano()
	}
	if !to.IsZero() {
		hi = to.UTC().UnixNano()
	}

	query := `
		SELECT t.id, t.amount, t.occurred_at,
			CASE WHEN a.id IS NULL THEN 0 ELSE 1 END,
			COALESCE(a.risk_score, 0), COALESCE(a.risk_level, '')
		FROM transactions t
		LEFT JOIN alerts a ON a.transaction_id = t.id AND a.tenant_id = t.tenant_id
		WHERE t.tenant_id = ? AND t.occurred_at >= ? AND t.occurred_at < ?
		ORDER BY t.occurred_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, lo, hi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activity []*domain.TransactionActivity
	for rows.Next() {
		var a domain.TransactionActivity
		var amount string
		var occurred int64
		var alerted int
		var level string
		if err := rows.Scan(&a.TransactionID, &amount, &occurred, &alerted, &a.RiskScore, &level); err != nil {
			return nil, err
		}
		if a.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		a.Timestamp = time.Unix(0, occurred).UTC()
		a.Alerted = alerted == 1
		a.RiskLevel = domain.RiskLevel(level)
		activity = append(activity, &a)
	}

	return activity, rows.Err()
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var amount string
	var oldOrig, newOrig, oldDest, newDest decimal.NullDecimal
	var occurred int64

	err := row.Scan(
		&tx.ID, &tx.TenantID, &tx.ExternalID, &amount, &tx.CustomerID, &tx.MerchantID,
		&tx.Category, &tx.Type,
		&oldOrig, &newOrig, &oldDest, &newDest,
		&occurred, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	tx.OldBalanceOrig = decimalPtr(oldOrig)
	tx.NewBalanceOrig = decimalPtr(newOrig)
	tx.OldBalanceDest = decimalPtr(oldDest)
	tx.NewBalanceDest = decimalPtr(newDest)
	tx.Timestamp = time.Unix(0, occurred).UTC()
	tx.CreatedAt = tx.CreatedAt.UTC()

	return &tx, nil
}

// nullableDecimal stores optional balances as TEXT or NULL.
func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func decimalPtr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}
