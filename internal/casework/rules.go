package casework

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Rules are shared by every tenant and stored under domain.GlobalTenantID.
// Edits only reach scoring after ReloadRules.

// ListRules returns every stored rule, active or not.
func (s *Service) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	return s.repo.ListRules(ctx, domain.GlobalTenantID)
}

// GetRule returns one rule.
func (s *Service) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	return s.repo.GetRule(ctx, domain.GlobalTenantID, ruleID)
}

// SaveRule validates and stores a rule, assigning an ID to new rules.
func (s *Service) SaveRule(ctx context.Context, rule *domain.Rule) (*domain.Rule, error) {
	if err := s.engine.ValidateRule(rule); err != nil {
		return nil, err
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if rule.ID == "" {
		rule.ID = s.newID()
	}
	if err := s.repo.SaveRule(ctx, domain.GlobalTenantID, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// UpdateRule replaces an existing rule.
func (s *Service) UpdateRule(ctx context.Context, ruleID string, rule *domain.Rule) (*domain.Rule, error) {
	existing, err := s.repo.GetRule(ctx, domain.GlobalTenantID, ruleID)
	if err != nil {
		return nil, err
	}
	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	return s.SaveRule(ctx, rule)
}

// DeleteRule removes a rule.
func (s *Service) DeleteRule(ctx context.Context, ruleID string) error {
	return s.repo.DeleteRule(ctx, domain.GlobalTenantID, ruleID)
}

// ReloadRules rebuilds the engine snapshot from the store and returns the
// number of rules loaded.
func (s *Service) ReloadRules(ctx context.Context) (int, error) {
	if err := s.engine.Initialize(ctx, s.repo); err != nil {
		return 0, err
	}
	n := s.engine.RulesCount()
	metrics.RulesLoaded.Set(float64(n))
	slog.Info("rules loaded", "count", n)
	return n, nil
}

// SeedBaseline stores the baseline rules when the store has none.
func (s *Service) SeedBaseline(ctx context.Context) error {
	existing, err := s.repo.ListRules(ctx, domain.GlobalTenantID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, r := range rules.BaselineRules() {
		r.ID = s.newID()
		if err := s.repo.SaveRule(ctx, domain.GlobalTenantID, r); err != nil {
			return err
		}
	}
	slog.Info("seeded baseline rules", "count", len(rules.BaselineRules()))
	return nil
}
