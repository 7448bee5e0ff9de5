// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	RuleSource

	// Transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)
	CountCustomerTransactions(ctx context.Context, tenantID string, customerID int64, since, until time.Time) (int64, error)
	ListTransactionActivity(ctx context.Context, tenantID string, from, to time.Time) ([]*TransactionActivity, error)

	// Rule operations
	SaveRule(ctx context.Context, tenantID string, rule *Rule) error
	GetRule(ctx context.Context, tenantID string, ruleID string) (*Rule, error)
	ListRules(ctx context.Context, tenantID string) ([]*Rule, error)
	DeleteRule(ctx context.Context, tenantID string, ruleID string) error

	// Alert operations
	SaveAlert(ctx context.Context, tenantID string, alert *Alert) error
	GetAlert(ctx context.Context, tenantID string, alertID string) (*Alert, error)
	ListAlerts(ctx context.Context, tenantID string, filter AlertFilter) ([]*Alert, error)

	// UpdateAlertStatus only succeeds while the alert is still in from;
	// otherwise it returns ErrIllegalTransition (or ErrNotFound).
	UpdateAlertStatus(ctx context.Context, tenantID, alertID string, from, to AlertStatus, at time.Time) error
	SetAlertQueue(ctx context.Context, tenantID, alertID, queue string, at time.Time) error
	SetAlertExplanation(ctx context.Context, tenantID, alertID, explanation string, at time.Time) error

	// Case operations
	SaveCase(ctx context.Context, tenantID string, c *Case) error
	GetCase(ctx context.Context, tenantID string, caseID string) (*Case, error)
	GetCaseByAlert(ctx context.Context, tenantID string, alertID string) (*Case, error)
	ListCases(ctx context.Context, tenantID string, filter CaseFilter) ([]*Case, error)
	UpdateCaseStatus(ctx context.Context, tenantID, caseID string, from, to CaseStatus, at time.Time) error
	AssignCase(ctx context.Context, tenantID, caseID, analystID string, at time.Time) error
	CountCasesByStatus(ctx context.Context, tenantID string) (map[CaseStatus]int, error)

	// Case notes are append-only. Adding one bumps the case's updated_at.
	AddCaseNote(ctx context.Context, tenantID string, note *CaseNote) error
	ListCaseNotes(ctx context.Context, tenantID string, caseID string) ([]*CaseNote, error)

	// SAR operations
	SaveSAR(ctx context.Context, tenantID string, sar *SAR) error
	GetSAR(ctx context.Context, tenantID string, sarID string) (*SAR, error)
	GetSARByCase(ctx context.Context, tenantID string, caseID string) (*SAR, error)
	ListSARs(ctx context.Context, tenantID string, filter SARFilter) ([]*SAR, error)
	UpdateSAR(ctx context.Context, tenantID string, sar *SAR, expected SARStatus) error
	CountSARs(ctx context.Context, tenantID string) (int, error)
	SARStats(ctx context.Context, tenantID string) (*SARStats, error)

	// FileSAR marks the SAR filed and moves its case to "SAR Filed"
	// in a single database transaction.
	FileSAR(ctx context.Context, tenantID string, sarID string, caseID string, filedAt time.Time) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RuleSource supplies the active rules for a rule-engine snapshot,
// ordered by ascending priority.
type RuleSource interface {
	ListActiveRules(ctx context.Context, tenantID string) ([]*Rule, error)
}

// TransactionActivity is a transaction joined with its alert, if any.
type TransactionActivity struct {
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     time.Time       `json:"timestamp"`
	Alerted       bool            `json:"alerted"`
	RiskScore     int             `json:"riskScore"`
	RiskLevel     RiskLevel       `json:"riskLevel,omitempty"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
