// Package estimator provides fraud probability estimators. Local models are
// evaluated from JSON artifacts produced by an offline training job; a
// remote estimator delegates to an inference service. Every estimator is
// wrapped by Guarded, which substitutes the deterministic heuristic when the
// model is missing, fails, or runs past its deadline.
package estimator

import (
	"context"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Estimator predicts the probability in [0, 1] that a transaction is fraudulent.
type Estimator interface {
	Predict(ctx context.Context, tx *domain.Transaction) (float64, error)
}

// Model kinds selectable through configuration.
const (
	KindDecisionTree = "decision_tree"
	KindNaiveBayes   = "naive_bayes"
	KindKNN          = "knn"
	KindNeural       = "ann"
	KindEnsemble     = "ensemble"
	KindRemote       = "remote"
	KindHeuristic    = "heuristic"
)

// LocalKinds are the model kinds loaded from the artifact directory.
var LocalKinds = []string{KindDecisionTree, KindNaiveBayes, KindKNN, KindNeural}

// Load builds the estimator for a local model kind from the artifacts in dir.
func Load(dir, kind string) (Estimator, error) {
	vec, err := LoadVectorizer(dir)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindDecisionTree:
		return LoadDecisionTree(dir, vec)
	case KindNaiveBayes:
		return LoadNaiveBayes(dir, vec)
	case KindKNN:
		return LoadKNN(dir, vec)
	case KindNeural:
		return LoadNeural(dir, vec)
	}
	return nil, fmt.Errorf("unknown model kind %q", kind)
}

// New builds the guarded estimator described by cfg. Load failures are
// logged by the guard and never returned: the heuristic takes over.
func New(cfg domain.ModelConfig) *Guarded {
	switch cfg.Kind {
	case KindEnsemble:
		return NewEnsemble(cfg.Dir, cfg.Timeout)
	case KindRemote:
		return NewGuarded(KindRemote, NewRemote(cfg.URL, cfg.Timeout), nil, cfg.Timeout)
	case KindHeuristic, "":
		return NewGuarded(KindHeuristic, nil, nil, 0)
	}
	est, err := Load(cfg.Dir, cfg.Kind)
	return NewGuarded(cfg.Kind, est, err, cfg.Timeout)
}
