package estimator

import (
	"context"
	"fmt"
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
)

// PCA projects scaled features onto principal components.
type PCA struct {
	Mean       []float64   `json:"mean"`
	Components [][]float64 `json:"components"`
}

// Transform returns the projection of x.
func (p *PCA) Transform(x []float64) []float64 {
	out := make([]float64, len(p.Components))
	for k, comp := range p.Components {
		s := 0.0
		for j := range x {
			s += (x[j] - p.Mean[j]) * comp[j]
		}
		out[k] = s
	}
	return out
}

// KNN classifies by majority of the K nearest reference points in the
// scaled, PCA-reduced space.
type KNN struct {
	K      int         `json:"k"`
	Points [][]float64 `json:"points"`
	Labels []int       `json:"labels"`

	scaler *Scaler
	pca    *PCA
	vec    *Vectorizer
}

// LoadKNN reads knn.json, knn_scaler.json and knn_pca.json from dir.
func LoadKNN(dir string, vec *Vectorizer) (*KNN, error) {
	m := &KNN{scaler: &Scaler{}, pca: &PCA{}}
	if err := readArtifact(dir, FileKNN, m); err != nil {
		return nil, err
	}
	if err := readArtifact(dir, FileKNNScaler, m.scaler); err != nil {
		return nil, err
	}
	if err := readArtifact(dir, FileKNNPCA, m.pca); err != nil {
		return nil, err
	}

	width := len(vec.Columns)
	if err := m.scaler.validate(width); err != nil {
		return nil, err
	}
	if len(m.pca.Mean) != width || len(m.pca.Components) == 0 {
		return nil, fmt.Errorf("%w: pca does not match %d features", ErrArtifact, width)
	}
	for i, c := range m.pca.Components {
		if len(c) != width {
			return nil, fmt.Errorf("%w: pca component %d width %d", ErrArtifact, i, len(c))
		}
	}
	dims := len(m.pca.Components)
	if len(m.Points) == 0 || len(m.Points) != len(m.Labels) {
		return nil, fmt.Errorf("%w: knn needs matching points and labels", ErrArtifact)
	}
	for i, p := range m.Points {
		if len(p) != dims {
			return nil, fmt.Errorf("%w: knn point %d has %d dims, expected %d", ErrArtifact, i, len(p), dims)
		}
	}
	if m.K <= 0 {
		m.K = 5
	}
	if m.K > len(m.Points) {
		m.K = len(m.Points)
	}
	m.vec = vec
	return m, nil
}

// Predict implements Estimator.
func (m *KNN) Predict(_ context.Context, tx *domain.Transaction) (float64, error) {
	x := m.pca.Transform(m.scaler.Transform(m.vec.Vector(tx)))
	return m.probability(x), nil
}

type neighbour struct {
	dist  float64
	label int
}

func (m *KNN) probability(x []float64) float64 {
	ns := make([]neighbour, len(m.Points))
	for i, p := range m.Points {
		d := 0.0
		for j := range p {
			diff := p[j] - x[j]
			d += diff * diff
		}
		ns[i] = neighbour{dist: d, label: m.Labels[i]}
	}
	sort.SliceStable(ns, func(i, j int) bool { return ns[i].dist < ns[j].dist })

	positive := 0
	for _, n := range ns[:m.K] {
		if n.label == 1 {
			positive++
		}
	}
	return float64(positive) / float64(m.K)
}
