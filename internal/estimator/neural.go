package estimator

import (
	"context"
	"fmt"
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Layer is a dense layer. Weights are indexed [input][output].
type Layer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

// Neural is a feed-forward network whose last layer has a single
// sigmoid unit.
type Neural struct {
	Layers []Layer `json:"layers"`

	scaler *Scaler
	vec    *Vectorizer
}

// LoadNeural reads ann_model.json and ann_scaler.json from dir.
func LoadNeural(dir string, vec *Vectorizer) (*Neural, error) {
	n := &Neural{scaler: &Scaler{}}
	if err := readArtifact(dir, FileNeural, n); err != nil {
		return nil, err
	}
	if err := readArtifact(dir, FileNeuralScaler, n.scaler); err != nil {
		return nil, err
	}
	width := len(vec.Columns)
	if err := n.scaler.validate(width); err != nil {
		return nil, err
	}
	if len(n.Layers) == 0 {
		return nil, fmt.Errorf("%w: network has no layers", ErrArtifact)
	}
	in := width
	for i, l := range n.Layers {
		if len(l.Weights) != in {
			return nil, fmt.Errorf("%w: layer %d expects %d inputs, has %d", ErrArtifact, i, in, len(l.Weights))
		}
		out := len(l.Bias)
		for _, row := range l.Weights {
			if len(row) != out {
				return nil, fmt.Errorf("%w: layer %d weight row width mismatch", ErrArtifact, i)
			}
		}
		if _, ok := activations[l.Activation]; !ok {
			return nil, fmt.Errorf("%w: layer %d unknown activation %q", ErrArtifact, i, l.Activation)
		}
		in = out
	}
	if in != 1 {
		return nil, fmt.Errorf("%w: network output width %d, expected 1", ErrArtifact, in)
	}
	n.vec = vec
	return n, nil
}

var activations = map[string]func(float64) float64{
	"relu":    func(v float64) float64 { return math.Max(0, v) },
	"sigmoid": sigmoid,
	"tanh":    math.Tanh,
	"linear":  func(v float64) float64 { return v },
	"":        func(v float64) float64 { return v },
}

func sigmoid(v float64) float64 { return 1 / (1 + math.Exp(-v)) }

// Predict implements Estimator.
func (n *Neural) Predict(_ context.Context, tx *domain.Transaction) (float64, error) {
	return n.forward(n.scaler.Transform(n.vec.Vector(tx))), nil
}

func (n *Neural) forward(x []float64) float64 {
	for _, l := range n.Layers {
		act := activations[l.Activation]
		next := make([]float64, len(l.Bias))
		copy(next, l.Bias)
		for i, xi := range x {
			for j, w := range l.Weights[i] {
				next[j] += xi * w
			}
		}
		for j := range next {
			next[j] = act(next[j])
		}
		x = next
	}
	return x[0]
}
