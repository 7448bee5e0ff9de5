package estimator

import (
	"context"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// TreeNode is one node of an exported decision tree. Leaves have
// Feature < 0 and carry per-class sample weights in Value.
type TreeNode struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      int       `json:"left"`
	Right     int       `json:"right"`
	Value     []float64 `json:"value"`
}

// DecisionTree walks a binary tree: x[feature] <= threshold goes left.
type DecisionTree struct {
	Nodes []TreeNode `json:"nodes"`

	vec *Vectorizer
}

// LoadDecisionTree reads decision_tree.json from dir.
func LoadDecisionTree(dir string, vec *Vectorizer) (*DecisionTree, error) {
	t := &DecisionTree{}
	if err := readArtifact(dir, FileDecisionTree, t); err != nil {
		return nil, err
	}
	if err := t.validate(len(vec.Columns)); err != nil {
		return nil, err
	}
	t.vec = vec
	return t, nil
}

func (t *DecisionTree) validate(width int) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("%w: decision tree has no nodes", ErrArtifact)
	}
	for i, n := range t.Nodes {
		if n.Feature < 0 {
			if len(n.Value) < 2 {
				return fmt.Errorf("%w: leaf %d has %d class values", ErrArtifact, i, len(n.Value))
			}
			continue
		}
		if n.Feature >= width {
			return fmt.Errorf("%w: node %d splits on feature %d of %d", ErrArtifact, i, n.Feature, width)
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("%w: node %d has invalid children", ErrArtifact, i)
		}
	}
	return nil
}

// Predict implements Estimator.
func (t *DecisionTree) Predict(_ context.Context, tx *domain.Transaction) (float64, error) {
	return t.probability(t.vec.Vector(tx)), nil
}

func (t *DecisionTree) probability(x []float64) float64 {
	i := 0
	for t.Nodes[i].Feature >= 0 {
		n := t.Nodes[i]
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	v := t.Nodes[i].Value
	total := 0.0
	for _, w := range v {
		total += w
	}
	if total == 0 {
		return 0
	}
	return v[1] / total
}
