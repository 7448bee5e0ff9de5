package estimator

import (
	"context"
	"errors"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

var errNoMembers = errors.New("no ensemble member has a model")

// Ensemble averages the probabilities of its guarded members. A member
// without a model contributes its heuristic fallback.
type Ensemble struct {
	members []*Guarded
}

// NewEnsemble loads every local model kind from dir and wraps the
// averaged ensemble in a guard.
func NewEnsemble(dir string, timeout time.Duration) *Guarded {
	members := make([]*Guarded, 0, len(LocalKinds))
	for _, kind := range LocalKinds {
		est, err := Load(dir, kind)
		members = append(members, NewGuarded(kind, est, err, timeout))
	}
	return NewGuarded(KindEnsemble, &Ensemble{members: members}, nil, 0)
}

// Predict implements Estimator. It returns an error when no member has a
// model, leaving the outer guard to apply the heuristic once.
func (e *Ensemble) Predict(ctx context.Context, tx *domain.Transaction) (float64, error) {
	if len(e.members) == 0 {
		return 0, errNoMembers
	}
	sum := 0.0
	available := 0
	for _, m := range e.members {
		est := m.Estimate(ctx, tx)
		if !est.Fallback {
			available++
		}
		sum += est.Probability
	}
	if available == 0 {
		return 0, errNoMembers
	}
	return sum / float64(len(e.members)), nil
}
