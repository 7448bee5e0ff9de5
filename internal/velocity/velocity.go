// Package velocity derives the customer transaction velocity attribute
// consumed by velocity rules.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// DefaultWindow matches the baseline "Velocity Check" rule.
const DefaultWindow = 10 * time.Minute

// Counter is the repository capability velocity needs.
type Counter interface {
	CountCustomerTransactions(ctx context.Context, tenantID string, customerID int64, since, until time.Time) (int64, error)
}

// Service counts a customer's recent transactions.
type Service struct {
	counter Counter
	window  time.Duration
}

// NewService creates a velocity service. A non-positive window uses
// DefaultWindow.
func NewService(counter Counter, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{counter: counter, window: window}
}

// Window returns the look-back window.
func (s *Service) Window() time.Duration {
	return s.window
}

// Count returns how many of the customer's transactions fall inside the
// window that ends just before tx.Timestamp. tx itself is not counted.
func (s *Service) Count(ctx context.Context, tenantID string, tx *domain.Transaction) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	if s.counter == nil {
		return 0, fmt.Errorf("velocity: no data source available")
	}

	until := tx.Timestamp
	if until.IsZero() {
		until = time.Now().UTC()
	}

	count, err := s.counter.CountCustomerTransactions(ctx, tenantID, tx.CustomerID, until.Add(-s.window), until)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// Attributes returns the derived attributes for tx.
func (s *Service) Attributes(ctx context.Context, tenantID string, tx *domain.Transaction) (domain.Attributes, error) {
	count, err := s.Count(ctx, tenantID, tx)
	if err != nil {
		return nil, err
	}
	return domain.Attributes{domain.FieldVelocity: domain.IntValue(count)}, nil
}
