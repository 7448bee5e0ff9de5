package estimator

import (
	"context"
	"fmt"
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// NaiveBayes is a two-class Gaussian naive Bayes model.
type NaiveBayes struct {
	Priors []float64   `json:"priors"`
	Theta  [][]float64 `json:"theta"`
	Var    [][]float64 `json:"var"`

	vec *Vectorizer
}

// LoadNaiveBayes reads naive_bayes.json from dir.
func LoadNaiveBayes(dir string, vec *Vectorizer) (*NaiveBayes, error) {
	nb := &NaiveBayes{}
	if err := readArtifact(dir, FileNaiveBayes, nb); err != nil {
		return nil, err
	}
	width := len(vec.Columns)
	if len(nb.Priors) != 2 || len(nb.Theta) != 2 || len(nb.Var) != 2 {
		return nil, fmt.Errorf("%w: naive bayes must have two classes", ErrArtifact)
	}
	for c := 0; c < 2; c++ {
		if len(nb.Theta[c]) != width || len(nb.Var[c]) != width {
			return nil, fmt.Errorf("%w: naive bayes class %d width mismatch", ErrArtifact, c)
		}
	}
	nb.vec = vec
	return nb, nil
}

// Predict implements Estimator.
func (nb *NaiveBayes) Predict(_ context.Context, tx *domain.Transaction) (float64, error) {
	return nb.probability(nb.vec.Vector(tx)), nil
}

func (nb *NaiveBayes) probability(x []float64) float64 {
	var logp [2]float64
	for c := 0; c < 2; c++ {
		lp := math.Log(nb.Priors[c])
		for j, xj := range x {
			v := nb.Var[c][j]
			if v <= 0 {
				v = 1e-9
			}
			d := xj - nb.Theta[c][j]
			lp += -0.5*math.Log(2*math.Pi*v) - d*d/(2*v)
		}
		logp[c] = lp
	}
	// Softmax over the two joint log-likelihoods.
	m := math.Max(logp[0], logp[1])
	e0 := math.Exp(logp[0] - m)
	e1 := math.Exp(logp[1] - m)
	return e1 / (e0 + e1)
}
