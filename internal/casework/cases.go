package casework

import (
	"context"
	"fmt"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/escalation"
)

// ListCases returns cases, most recently updated first.
func (s *Service) ListCases(ctx context.Context, tenantID string, filter domain.CaseFilter) ([]*domain.Case, error) {
	return s.repo.ListCases(ctx, tenantID, filter)
}

// GetCase returns a case with its notes.
func (s *Service) GetCase(ctx context.Context, tenantID, caseID string) (*domain.Case, error) {
	c, err := s.repo.GetCase(ctx, tenantID, caseID)
	if err != nil {
		return nil, err
	}
	notes, err := s.repo.ListCaseNotes(ctx, tenantID, caseID)
	if err != nil {
		return nil, err
	}
	c.Notes = notes
	return c, nil
}

// UpdateCaseStatus moves a case along Open -> In Progress -> Closed.
func (s *Service) UpdateCaseStatus(ctx context.Context, tenantID, caseID string, status domain.CaseStatus) (*domain.Case, error) {
	c, err := s.repo.GetCase(ctx, tenantID, caseID)
	if err != nil {
		return nil, err
	}
	if err := escalation.CaseTransition(c.Status, status); err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.repo.UpdateCaseStatus(ctx, tenantID, caseID, c.Status, status, now); err != nil {
		return nil, err
	}
	c.Status = status
	c.UpdatedAt = now
	return c, nil
}

// AssignCase sets the responsible analyst. An empty analyst unassigns.
func (s *Service) AssignCase(ctx context.Context, tenantID, caseID, analystID string) (*domain.Case, error) {
	if err := s.repo.AssignCase(ctx, tenantID, caseID, strings.TrimSpace(analystID), s.now()); err != nil {
		return nil, err
	}
	return s.repo.GetCase(ctx, tenantID, caseID)
}

// AddCaseNote appends an analyst note to a case and marks the case
// updated.
func (s *Service) AddCaseNote(ctx context.Context, tenantID, caseID, analystID, text string) (*domain.CaseNote, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: note is required", domain.ErrInvalidInput)
	}
	note := &domain.CaseNote{
		ID:        s.newID(),
		TenantID:  tenantID,
		CaseID:    caseID,
		AnalystID: strings.TrimSpace(analystID),
		Note:      text,
		CreatedAt: s.now(),
	}
	if err := s.repo.AddCaseNote(ctx, tenantID, note); err != nil {
		return nil, err
	}
	return note, nil
}

// ListCaseNotes returns a case's notes, oldest first.
func (s *Service) ListCaseNotes(ctx context.Context, tenantID, caseID string) ([]*domain.CaseNote, error) {
	if _, err := s.repo.GetCase(ctx, tenantID, caseID); err != nil {
		return nil, err
	}
	return s.repo.ListCaseNotes(ctx, tenantID, caseID)
}
