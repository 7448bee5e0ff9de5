package estimator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Artifact file names inside the model directory.
const (
	FileFeatureColumns = "feature_columns.json"
	FileEncoders       = "encoders.json"
	FileDecisionTree   = "decision_tree.json"
	FileNaiveBayes     = "naive_bayes.json"
	FileKNN            = "knn.json"
	FileKNNScaler      = "knn_scaler.json"
	FileKNNPCA         = "knn_pca.json"
	FileNeural         = "ann_model.json"
	FileNeuralScaler   = "ann_scaler.json"
)

// ErrArtifact is returned when a model artifact is missing or unusable.
var ErrArtifact = errors.New("model artifact unavailable")

var productCodes = map[string]string{
	"Web":     "W",
	"Credit":  "C",
	"Retail":  "R",
	"Service": "S",
	"Home":    "H",
}

// LabelEncoder maps categorical values to the integer codes seen in training.
type LabelEncoder struct {
	Classes []string `json:"classes"`

	index map[string]int
}

// Encode returns the class code, or 0 for values unseen during training.
func (e *LabelEncoder) Encode(v string) float64 {
	if e.index == nil {
		e.index = make(map[string]int, len(e.Classes))
		for i, c := range e.Classes {
			e.index[c] = i
		}
	}
	if i, ok := e.index[v]; ok {
		return float64(i)
	}
	return 0
}

// Vectorizer turns a transaction into the ordered feature vector the
// models were trained on.
type Vectorizer struct {
	Columns  []string
	Encoders map[string]*LabelEncoder
}

// LoadVectorizer reads the feature columns and label encoders from dir.
// The encoders file is optional.
func LoadVectorizer(dir string) (*Vectorizer, error) {
	v := &Vectorizer{Encoders: map[string]*LabelEncoder{}}
	if err := readArtifact(dir, FileFeatureColumns, &v.Columns); err != nil {
		return nil, err
	}
	if len(v.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s lists no columns", ErrArtifact, FileFeatureColumns)
	}

	err := readArtifact(dir, FileEncoders, &v.Encoders)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	for col, enc := range v.Encoders {
		if enc == nil {
			delete(v.Encoders, col)
			continue
		}
		enc.Encode("") // build the index before concurrent use
	}
	return v, nil
}

// Vector builds the feature vector for tx. Columns the transaction cannot
// supply default to 0.
func (v *Vectorizer) Vector(tx *domain.Transaction) []float64 {
	raw := rawFeatures(tx)
	out := make([]float64, len(v.Columns))
	for i, col := range v.Columns {
		val, ok := raw[col]
		if !ok {
			val = 0.0
		}
		if enc, ok := v.Encoders[col]; ok {
			out[i] = enc.Encode(fmt.Sprint(val))
			continue
		}
		switch t := val.(type) {
		case float64:
			out[i] = t
		case string:
			out[i] = float64(xxhash.Sum64String(t) % 1000)
		}
	}
	return out
}

func rawFeatures(tx *domain.Transaction) map[string]any {
	amount := tx.Amount.InexactFloat64()
	product, ok := productCodes[tx.Category]
	if !ok {
		product = "W"
	}

	f := map[string]any{
		"TransactionAmt": amount,
		"ProductCD":      product,
		"card1":          float64(tx.MerchantID),
		"card2":          float64(tx.CustomerID % 1000),
		"card3":          float64(tx.Amount.IntPart() % 1000),
		"card4":          "unknown",
		"card5":          float64(tx.CustomerID % 100),
		"card6":          "credit",
		"addr1":          float64(tx.MerchantID),
		"addr2":          float64(tx.CustomerID % 100),
		"P_emaildomain":  "unknown",
		"R_emaildomain":  "unknown",
	}

	for i := 1; i <= 14; i++ {
		f[fmt.Sprintf("C%d", i)] = 0.0
	}
	if tx.OldBalanceOrig != nil {
		f["C1"] = tx.OldBalanceOrig.InexactFloat64()
	}
	if tx.NewBalanceOrig != nil {
		f["C2"] = tx.NewBalanceOrig.InexactFloat64()
	}
	for i := 1; i <= 15; i++ {
		f[fmt.Sprintf("D%d", i)] = 0.0
	}
	for i := 1; i <= 9; i++ {
		m := "F"
		if i%2 == 0 {
			m = "T"
		}
		f[fmt.Sprintf("M%d", i)] = m
	}
	return f
}

func readArtifact(dir, name string, dst any) error {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrArtifact, name, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrArtifact, name, err)
	}
	return nil
}

// Scaler standardizes features: (x - mean) / scale.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *Scaler) validate(width int) error {
	if len(s.Mean) != width || len(s.Scale) != width {
		return fmt.Errorf("%w: scaler width %d/%d, expected %d", ErrArtifact, len(s.Mean), len(s.Scale), width)
	}
	return nil
}

// Transform returns a scaled copy of x.
func (s *Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = (x[i] - s.Mean[i]) / scale
	}
	return out
}
