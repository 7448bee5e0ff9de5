package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a single financial event submitted for scoring.
// It is immutable once persisted.
type Transaction struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	ExternalID string `json:"transactionId"`

	Amount     decimal.Decimal `json:"amount"`
	CustomerID int64           `json:"customerId"`
	MerchantID int64           `json:"merchantId"`
	Category   string          `json:"category"`
	Type       string          `json:"transactionType"`

	// Balance snapshots are optional; nil means "not supplied".
	OldBalanceOrig *decimal.Decimal `json:"oldBalanceOrig,omitempty"`
	NewBalanceOrig *decimal.Decimal `json:"newBalanceOrig,omitempty"`
	OldBalanceDest *decimal.Decimal `json:"oldBalanceDest,omitempty"`
	NewBalanceDest *decimal.Decimal `json:"newBalanceDest,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}

// Field names understood by rule conditions and CEL guards.
const (
	FieldAmount          = "amount"
	FieldCustomerID      = "customer_id"
	FieldMerchantID      = "merchant_id"
	FieldCategory        = "category"
	FieldTransactionType = "transaction_type"
	FieldOldBalanceOrig  = "old_balance_orig"
	FieldNewBalanceOrig  = "new_balance_orig"
	FieldOldBalanceDest  = "old_balance_dest"
	FieldNewBalanceDest  = "new_balance_dest"
	FieldVelocity        = "velocity"
)

// Lookup reads a named field from the transaction.
// Optional balances that were not supplied report ok=false.
func (t *Transaction) Lookup(field string) (Value, bool) {
	switch field {
	case FieldAmount:
		return NumberValue(t.Amount), true
	case FieldCustomerID:
		return NumberValue(decimal.NewFromInt(t.CustomerID)), true
	case FieldMerchantID:
		return NumberValue(decimal.NewFromInt(t.MerchantID)), true
	case FieldCategory:
		return StringValue(t.Category), true
	case FieldTransactionType, "type":
		return StringValue(t.Type), true
	case FieldOldBalanceOrig:
		return optionalNumber(t.OldBalanceOrig)
	case FieldNewBalanceOrig:
		return optionalNumber(t.NewBalanceOrig)
	case FieldOldBalanceDest:
		return optionalNumber(t.OldBalanceDest)
	case FieldNewBalanceDest:
		return optionalNumber(t.NewBalanceDest)
	}
	return Value{}, false
}

func optionalNumber(d *decimal.Decimal) (Value, bool) {
	if d == nil {
		return Value{}, false
	}
	return NumberValue(*d), true
}

// Attributes are values derived outside the transaction itself,
// such as the customer's recent transaction velocity.
type Attributes map[string]Value

// TransactionRequest is the API payload for submitting a transaction.
type TransactionRequest struct {
	TransactionID   string           `json:"transactionId"`
	Amount          decimal.Decimal  `json:"amount"`
	CustomerID      int64            `json:"customerId"`
	MerchantID      int64            `json:"merchantId"`
	Category        string           `json:"category"`
	TransactionType string           `json:"transactionType"`
	Timestamp       *time.Time       `json:"timestamp,omitempty"`
	OldBalanceOrig  *decimal.Decimal `json:"oldBalanceOrig,omitempty"`
	NewBalanceOrig  *decimal.Decimal `json:"newBalanceOrig,omitempty"`
	OldBalanceDest  *decimal.Decimal `json:"oldBalanceDest,omitempty"`
	NewBalanceDest  *decimal.Decimal `json:"newBalanceDest,omitempty"`
}

// Validate checks the request carries a usable transaction.
func (r *TransactionRequest) Validate() error {
	if strings.TrimSpace(r.TransactionID) == "" {
		return fmt.Errorf("%w: transactionId is required", ErrInvalidInput)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if strings.TrimSpace(r.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	if strings.TrimSpace(r.TransactionType) == "" {
		return fmt.Errorf("%w: transactionType is required", ErrInvalidInput)
	}
	return nil
}

// ToTransaction converts a request to a Transaction for the given tenant.
// A missing timestamp defaults to now.
func (r *TransactionRequest) ToTransaction(tenantID string) *Transaction {
	now := time.Now().UTC()
	ts := now
	if r.Timestamp != nil && !r.Timestamp.IsZero() {
		ts = r.Timestamp.UTC()
	}
	return &Transaction{
		TenantID:       tenantID,
		ExternalID:     strings.TrimSpace(r.TransactionID),
		Amount:         r.Amount,
		CustomerID:     r.CustomerID,
		MerchantID:     r.MerchantID,
		Category:       r.Category,
		Type:           r.TransactionType,
		OldBalanceOrig: r.OldBalanceOrig,
		NewBalanceOrig: r.NewBalanceOrig,
		OldBalanceDest: r.OldBalanceDest,
		NewBalanceDest: r.NewBalanceDest,
		Timestamp:      ts,
		CreatedAt:      now,
	}
}
