package casework

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/escalation"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/shopspring/decimal"
)

// sarNumberAttempts bounds retries when drafts race for the same number.
// A losing draft recounts, so each retry sees the winner's SAR.
const sarNumberAttempts = 5

// SARDraft is the input for a new SAR.
type SARDraft struct {
	CaseID       string          `json:"caseId"`
	CustomerName string          `json:"customerName,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
}

// SARUpdate edits a SAR that has not been filed. Nil fields are unchanged.
type SARUpdate struct {
	Status       *domain.SARStatus `json:"status,omitempty"`
	CustomerName *string           `json:"customerName,omitempty"`
	Amount       *decimal.Decimal  `json:"amount,omitempty"`
	Description  *string           `json:"description,omitempty"`
}

// chain loads the alert and transaction behind a case. Missing links come
// back as nil so the lifecycle checks can reject them.
func (s *Service) chain(ctx context.Context, tenantID string, c *domain.Case) (*domain.Alert, *domain.Transaction, error) {
	if c.AlertID == "" {
		return nil, nil, nil
	}
	alert, err := optional(s.repo.GetAlert(ctx, tenantID, c.AlertID))
	if err != nil || alert == nil || alert.TransactionID == "" {
		return alert, nil, err
	}
	tx, err := optional(s.repo.GetTransaction(ctx, tenantID, alert.TransactionID))
	return alert, tx, err
}

// CreateSAR drafts a SAR for a case under investigation. A non-positive
// amount is taken from the transaction and an empty customer name becomes
// "Customer-<id>". Numbers run per tenant as SAR-<year>-<seq>.
func (s *Service) CreateSAR(ctx context.Context, tenantID string, draft *SARDraft) (*domain.SAR, error) {
	if draft == nil || strings.TrimSpace(draft.CaseID) == "" {
		return nil, fmt.Errorf("%w: caseId is required", domain.ErrInvalidInput)
	}

	c, err := s.repo.GetCase(ctx, tenantID, draft.CaseID)
	if err != nil {
		return nil, err
	}
	alert, tx, err := s.chain(ctx, tenantID, c)
	if err != nil {
		return nil, err
	}
	existing, err := optional(s.repo.GetSARByCase(ctx, tenantID, c.ID))
	if err != nil {
		return nil, err
	}
	if err := escalation.CanCreateSAR(c, alert, tx, existing); err != nil {
		return nil, err
	}

	now := s.now()
	sar := &domain.SAR{
		ID:           s.newID(),
		TenantID:     tenantID,
		CaseID:       c.ID,
		CustomerName: strings.TrimSpace(draft.CustomerName),
		Amount:       draft.Amount,
		Status:       domain.SARDraft,
		Description:  strings.TrimSpace(draft.Description),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !sar.Amount.IsPositive() {
		sar.Amount = tx.Amount
	}
	if sar.CustomerName == "" {
		sar.CustomerName = "Customer-" + strconv.FormatInt(tx.CustomerID, 10)
	}

	for attempt := 0; attempt < sarNumberAttempts; attempt++ {
		count, err := s.repo.CountSARs(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		sar.Number = escalation.FormatSARNumber(now.Year(), count+1)

		err = s.repo.SaveSAR(ctx, tenantID, sar)
		if err == nil {
			return sar, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		// The conflict is either the number or a SAR drafted for the same
		// case in the meantime; only the former is worth retrying.
		if other, _ := optional(s.repo.GetSARByCase(ctx, tenantID, c.ID)); other != nil {
			return nil, fmt.Errorf("%w: case %s already has SAR %s", domain.ErrConflict, c.ID, other.Number)
		}
	}
	return nil, fmt.Errorf("%w: could not allocate a SAR number", domain.ErrConflict)
}

// GetSAR returns one SAR.
func (s *Service) GetSAR(ctx context.Context, tenantID, sarID string) (*domain.SAR, error) {
	return s.repo.GetSAR(ctx, tenantID, sarID)
}

// ListSARs returns SARs, newest first.
func (s *Service) ListSARs(ctx context.Context, tenantID string, filter domain.SARFilter) ([]*domain.SAR, error) {
	return s.repo.ListSARs(ctx, tenantID, filter)
}

// SARStats counts SARs per status.
func (s *Service) SARStats(ctx context.Context, tenantID string) (*domain.SARStats, error) {
	return s.repo.SARStats(ctx, tenantID)
}

// UpdateSAR edits a SAR. Filed SARs are immutable.
func (s *Service) UpdateSAR(ctx context.Context, tenantID, sarID string, upd *SARUpdate) (*domain.SAR, error) {
	if upd == nil {
		return nil, fmt.Errorf("%w: update is required", domain.ErrInvalidInput)
	}
	sar, err := s.repo.GetSAR(ctx, tenantID, sarID)
	if err != nil {
		return nil, err
	}
	if sar.Status == domain.SARFiled {
		return nil, fmt.Errorf("%w: SAR %s is filed", domain.ErrIllegalTransition, sar.Number)
	}
	stored := sar.Status

	if upd.Status != nil && *upd.Status != sar.Status {
		if err := escalation.SARTransition(sar.Status, *upd.Status); err != nil {
			return nil, err
		}
		sar.Status = *upd.Status
	}
	if upd.CustomerName != nil {
		name := strings.TrimSpace(*upd.CustomerName)
		if name == "" {
			return nil, fmt.Errorf("%w: customerName cannot be empty", domain.ErrInvalidInput)
		}
		sar.CustomerName = name
	}
	if upd.Amount != nil {
		if !upd.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
		}
		sar.Amount = *upd.Amount
	}
	if upd.Description != nil {
		sar.Description = strings.TrimSpace(*upd.Description)
	}

	sar.UpdatedAt = s.now()
	if err := s.repo.UpdateSAR(ctx, tenantID, sar, stored); err != nil {
		return nil, err
	}
	return sar, nil
}

// FileSAR files the SAR and marks its case "SAR Filed" in one database
// transaction. The case must still link to its alert and transaction.
func (s *Service) FileSAR(ctx context.Context, tenantID, sarID string) (*domain.SAR, error) {
	sar, err := s.repo.GetSAR(ctx, tenantID, sarID)
	if err != nil {
		return nil, err
	}
	c, err := optional(s.repo.GetCase(ctx, tenantID, sar.CaseID))
	if err != nil {
		return nil, err
	}
	var alert *domain.Alert
	var tx *domain.Transaction
	if c != nil {
		if alert, tx, err = s.chain(ctx, tenantID, c); err != nil {
			return nil, err
		}
	}
	if err := escalation.CanFileSAR(sar, c, alert, tx); err != nil {
		return nil, err
	}

	filedAt := s.now()
	if err := s.repo.FileSAR(ctx, tenantID, sar.ID, c.ID, filedAt); err != nil {
		return nil, err
	}
	sar.Status = domain.SARFiled
	sar.FilingDate = &filedAt
	sar.UpdatedAt = filedAt

	metrics.SARsFiled.Inc()
	s.publish(ctx, tenantID, domain.TopicSARFiled, sar)
	return sar, nil
}
