package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertStatus tracks analyst review of an alert.
type AlertStatus string

const (
	AlertPending   AlertStatus = "Pending"
	AlertReviewed  AlertStatus = "Reviewed"
	AlertDismissed AlertStatus = "Dismissed"
)

// Queue names used by the default routing policy.
const (
	QueueGeneral     = "General Queue"
	QueueHighProfile = "High Profile Queue"
)

// Alert flags a transaction whose risk score crossed the alert threshold.
type Alert struct {
	ID            string      `json:"id"`
	TenantID      string      `json:"tenantId"`
	TransactionID string      `json:"transactionId"`
	RiskScore     int         `json:"riskScore"`
	RiskLevel     RiskLevel   `json:"riskLevel"`
	Status        AlertStatus `json:"status"`
	Queue         string      `json:"queue"`

	// Score breakdown at the time the alert was raised.
	RuleScore      int             `json:"ruleScore"`
	MLScore        int             `json:"mlScore"`
	TriggeredRules []TriggeredRule `json:"triggeredRules"`

	Explanation string    `json:"explanation,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CaseStatus tracks an investigation.
type CaseStatus string

const (
	CaseOpen       CaseStatus = "Open"
	CaseInProgress CaseStatus = "In Progress"
	CaseClosed     CaseStatus = "Closed"
	CaseSARFiled   CaseStatus = "SAR Filed"
)

// CaseStatuses lists every case status in lifecycle order.
var CaseStatuses = []CaseStatus{CaseOpen, CaseInProgress, CaseClosed, CaseSARFiled}

// Case is an investigation opened for exactly one alert.
type Case struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenantId"`
	AlertID   string     `json:"alertId"`
	Status    CaseStatus `json:"status"`
	AnalystID string     `json:"analystId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`

	Notes []*CaseNote `json:"notes,omitempty"`
}

// CaseNote is an append-only analyst annotation.
type CaseNote struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	CaseID    string    `json:"caseId"`
	AnalystID string    `json:"analystId"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"createdAt"`
}

// SARStatus tracks a suspicious activity report.
type SARStatus string

const (
	SARDraft   SARStatus = "Draft"
	SARPending SARStatus = "Pending"
	SARFiled   SARStatus = "Filed"
)

// SAR is a suspicious activity report derived from one case.
type SAR struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenantId"`
	Number       string          `json:"sarId"`
	CaseID       string          `json:"caseId"`
	CustomerName string          `json:"customerName"`
	Amount       decimal.Decimal `json:"amount"`
	Status       SARStatus       `json:"status"`
	Description  string          `json:"description"`
	FilingDate   *time.Time      `json:"filingDate,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// AlertFilter narrows alert listings. Zero values mean "any".
type AlertFilter struct {
	Status   AlertStatus
	Queue    string
	MinScore int
	Limit    int
	Offset   int
}

// CaseFilter narrows case listings.
type CaseFilter struct {
	Status    CaseStatus
	AnalystID string
	Limit     int
	Offset    int
}

// SARFilter narrows SAR listings. Search matches the SAR number,
// customer name or description.
type SARFilter struct {
	Status SARStatus
	Search string
	Limit  int
	Offset int
}

// SARStats counts SARs per status.
type SARStats struct {
	Draft   int `json:"drafts"`
	Pending int `json:"pending"`
	Filed   int `json:"filed"`
	Total   int `json:"total"`
}

// TransactionStats aggregates transactions in a time range.
type TransactionStats struct {
	Count       int64           `json:"count"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}
