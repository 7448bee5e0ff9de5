package estimator

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTx(amount, category string) *domain.Transaction {
	return &domain.Transaction{
		ID:         "tx-1",
		ExternalID: "EXT-1",
		Amount:     decimal.RequireFromString(amount),
		CustomerID: 1234,
		MerchantID: 77,
		Category:   category,
		Type:       "payment",
		Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func withBalances(tx *domain.Transaction, oldBal, newBal string) *domain.Transaction {
	o := decimal.RequireFromString(oldBal)
	n := decimal.RequireFromString(newBal)
	tx.OldBalanceOrig = &o
	tx.NewBalanceOrig = &n
	return tx
}

func writeArtifact(t *testing.T, dir, name string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

// treeDir writes a two-feature vectorizer and a one-split decision tree:
// amount <= 1000 scores 0.1, above scores 0.8.
func treeDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeArtifact(t, dir, FileFeatureColumns, []string{"TransactionAmt", "ProductCD"})
	writeArtifact(t, dir, FileEncoders, map[string]any{
		"ProductCD": map[string]any{"classes": []string{"C", "H", "R", "S", "W"}},
	})
	writeArtifact(t, dir, FileDecisionTree, map[string]any{
		"nodes": []map[string]any{
			{"feature": 0, "threshold": 1000.0, "left": 1, "right": 2},
			{"feature": -2, "value": []float64{9, 1}},
			{"feature": -2, "value": []float64{2, 8}},
		},
	})
	return dir
}

func TestHeuristicProbability(t *testing.T) {
	tests := []struct {
		name string
		tx   *domain.Transaction
		want float64
	}{
		{"base only", newTx("100", "Retail"), 0.05},
		{"amount over 500", newTx("800", "Retail"), 0.15},
		{"amount of exactly 1000", newTx("1000", "Retail"), 0.15},
		{"amount over 1000", newTx("1000.01", "Retail"), 0.25},
		{"amount over 5000", newTx("6000", "Retail"), 0.45},
		{"risky category", newTx("100", "Electronics"), 0.35},
		{"large crypto without balances", newTx("6000", "crypto"), 0.75},
		{"large crypto draining origin", withBalances(newTx("6000", "CRYPTO"), "20000", "1000"), 0.95},
		{"drain below ratio", withBalances(newTx("1000", "Retail"), "5000", "4000"), 0.15},
		{"drain above ratio", withBalances(newTx("1000", "Retail"), "5000", "3000"), 0.35},
		{"zero balance ignores drain", withBalances(newTx("1000", "Retail"), "5000", "0"), 0.15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HeuristicProbability(tt.tx)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("is deterministic", func(t *testing.T) {
		tx := newTx("6000", "crypto")
		first := HeuristicProbability(tx)
		for i := 0; i < 100; i++ {
			require.Equal(t, first, HeuristicProbability(tx))
		}
	})
}

func TestVectorizer(t *testing.T) {
	vec := &Vectorizer{
		Columns: []string{"TransactionAmt", "ProductCD", "card2", "card3", "card4", "card6", "C1", "M2", "V1"},
		Encoders: map[string]*LabelEncoder{
			"ProductCD": {Classes: []string{"C", "H", "R", "S", "W"}},
			"card4":     {Classes: []string{"visa", "mastercard"}},
			"M2":        {Classes: []string{"F", "T"}},
		},
	}

	tx := withBalances(newTx("1234.56", "Retail"), "900", "100")
	x := vec.Vector(tx)
	require.Len(t, x, 9)

	assert.InDelta(t, 1234.56, x[0], 1e-9)
	assert.Equal(t, 2.0, x[1], "Retail maps to R")
	assert.Equal(t, 234.0, x[2], "customer id mod 1000")
	assert.Equal(t, 234.0, x[3], "integer amount mod 1000")
	assert.Equal(t, 0.0, x[4], "unseen category encodes as 0")
	assert.GreaterOrEqual(t, x[5], 0.0)
	assert.Less(t, x[5], 1000.0, "unencoded strings hash below 1000")
	assert.Equal(t, 900.0, x[6])
	assert.Equal(t, 1.0, x[7], "M2 is T")
	assert.Equal(t, 0.0, x[8], "unknown column defaults to 0")

	unknown := vec.Vector(newTx("10", "Crypto"))
	assert.Equal(t, 4.0, unknown[1], "unmapped category falls back to W")
}

func TestDecisionTree(t *testing.T) {
	est, err := Load(treeDir(t), KindDecisionTree)
	require.NoError(t, err)

	p, err := est.Predict(context.Background(), newTx("500", "Web"))
	require.NoError(t, err)
	assert.InDelta(t, 0.1, p, 1e-12)

	p, err = est.Predict(context.Background(), newTx("5000", "Web"))
	require.NoError(t, err)
	assert.InDelta(t, 0.8, p, 1e-12)
}

func TestDecisionTreeRejectsCorruptArtifact(t *testing.T) {
	dir := treeDir(t)
	writeArtifact(t, dir, FileDecisionTree, map[string]any{
		"nodes": []map[string]any{{"feature": 5, "threshold": 1.0, "left": 1, "right": 2}},
	})

	_, err := Load(dir, KindDecisionTree)
	assert.ErrorIs(t, err, ErrArtifact)
}

func TestNaiveBayes(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, FileFeatureColumns, []string{"TransactionAmt"})
	writeArtifact(t, dir, FileNaiveBayes, map[string]any{
		"priors": []float64{0.9, 0.1},
		"theta":  [][]float64{{100}, {8000}},
		"var":    [][]float64{{10000}, {1000000}},
	})

	est, err := Load(dir, KindNaiveBayes)
	require.NoError(t, err)

	low, _ := est.Predict(context.Background(), newTx("120", "Web"))
	high, _ := est.Predict(context.Background(), newTx("7900", "Web"))
	assert.Less(t, low, 0.01)
	assert.Greater(t, high, 0.99)
}

func TestKNN(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, FileFeatureColumns, []string{"TransactionAmt"})
	writeArtifact(t, dir, FileKNNScaler, map[string]any{"mean": []float64{0}, "scale": []float64{1}})
	writeArtifact(t, dir, FileKNNPCA, map[string]any{"mean": []float64{0}, "components": [][]float64{{1}}})
	writeArtifact(t, dir, FileKNN, map[string]any{
		"k":      3,
		"points": [][]float64{{0}, {10}, {11}, {12}},
		"labels": []int{0, 1, 1, 1},
	})

	est, err := Load(dir, KindKNN)
	require.NoError(t, err)

	p, _ := est.Predict(context.Background(), newTx("11", "Web"))
	assert.Equal(t, 1.0, p)

	p, _ = est.Predict(context.Background(), newTx("1", "Web"))
	assert.InDelta(t, 2.0/3.0, p, 1e-12)
}

func TestNeural(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, FileFeatureColumns, []string{"TransactionAmt"})
	writeArtifact(t, dir, FileNeuralScaler, map[string]any{"mean": []float64{1000}, "scale": []float64{1000}})
	writeArtifact(t, dir, FileNeural, map[string]any{
		"layers": []map[string]any{
			{"weights": [][]float64{{1, -1}}, "bias": []float64{0, 0}, "activation": "relu"},
			{"weights": [][]float64{{2}, {0}}, "bias": []float64{0}, "activation": "sigmoid"},
		},
	})

	est, err := Load(dir, KindNeural)
	require.NoError(t, err)

	p, _ := est.Predict(context.Background(), newTx("1000", "Web"))
	assert.InDelta(t, 0.5, p, 1e-12)

	p, _ = est.Predict(context.Background(), newTx("3000", "Web"))
	assert.InDelta(t, 1/(1+math.Exp(-4)), p, 1e-12)
}

type stubEstimator struct {
	p     float64
	err   error
	delay time.Duration
	panic bool
}

func (s *stubEstimator) Predict(ctx context.Context, _ *domain.Transaction) (float64, error) {
	if s.panic {
		panic("index out of range")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return s.p, s.err
}

func TestGuarded(t *testing.T) {
	tx := newTx("6000", "crypto")
	heuristic := HeuristicProbability(tx)

	tests := []struct {
		name     string
		primary  Estimator
		loadErr  error
		timeout  time.Duration
		want     float64
		fallback bool
	}{
		{"healthy model", &stubEstimator{p: 0.31}, nil, 0, 0.31, false},
		{"missing model", nil, nil, 0, heuristic, true},
		{"load error", &stubEstimator{p: 0.31}, errors.New("no file"), 0, heuristic, true},
		{"prediction error", &stubEstimator{err: errors.New("boom")}, nil, 0, heuristic, true},
		{"panic", &stubEstimator{panic: true}, nil, 0, heuristic, true},
		{"timeout", &stubEstimator{p: 0.31, delay: time.Second}, nil, 20 * time.Millisecond, heuristic, true},
		{"nan", &stubEstimator{p: math.NaN()}, nil, 0, heuristic, true},
		{"clamped high", &stubEstimator{p: 1.7}, nil, 0, 1, false},
		{"clamped low", &stubEstimator{p: -0.2}, nil, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGuarded(KindDecisionTree, tt.primary, tt.loadErr, tt.timeout)
			est := g.Estimate(context.Background(), tx)
			assert.Equal(t, tt.want, est.Probability)
			assert.Equal(t, tt.fallback, est.Fallback)

			p, err := g.Predict(context.Background(), tx)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, p)
		})
	}
}

func TestNewFallsBackWhenArtifactsMissing(t *testing.T) {
	g := New(domain.ModelConfig{Kind: KindKNN, Dir: filepath.Join(t.TempDir(), "absent")})
	assert.False(t, g.Available())

	est := g.Estimate(context.Background(), newTx("6000", "crypto"))
	assert.True(t, est.Fallback)
	assert.Equal(t, KindHeuristic, est.Model)
	assert.Equal(t, 0.75, est.Probability)

	h := New(domain.ModelConfig{Kind: KindHeuristic})
	assert.False(t, h.Estimate(context.Background(), newTx("10", "Web")).Fallback)
}

func TestEnsemble(t *testing.T) {
	dir := treeDir(t)
	g := New(domain.ModelConfig{Kind: KindEnsemble, Dir: dir})

	tx := newTx("5000", "Web")
	est := g.Estimate(context.Background(), tx)
	require.False(t, est.Fallback)

	// Only the tree has artifacts; the other three members use the heuristic.
	want := (0.8 + 3*HeuristicProbability(tx)) / 4
	assert.InDelta(t, want, est.Probability, 1e-12)

	empty := New(domain.ModelConfig{Kind: KindEnsemble, Dir: t.TempDir()})
	est = empty.Estimate(context.Background(), tx)
	assert.True(t, est.Fallback)
	assert.Equal(t, HeuristicProbability(tx), est.Probability)
}

func TestRemote(t *testing.T) {
	t.Run("returns probability", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/predict", r.URL.Path)
			var req PredictRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "EXT-1", req.TransactionID)
			assert.Equal(t, "R", req.Features["ProductCD"])
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"probability": 0.42}`))
		}))
		defer srv.Close()

		p, err := NewRemote(srv.URL, time.Second).Predict(context.Background(), newTx("10", "Retail"))
		require.NoError(t, err)
		assert.Equal(t, 0.42, p)
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := NewRemote(srv.URL, time.Second).Predict(context.Background(), newTx("10", "Retail"))
		assert.Error(t, err)
	})

	t.Run("slow service falls back", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
			w.Write([]byte(`{"probability": 0.99}`))
		}))
		defer srv.Close()

		g := New(domain.ModelConfig{Kind: KindRemote, URL: srv.URL, Timeout: 50 * time.Millisecond})
		tx := newTx("10", "Retail")
		est := g.Estimate(context.Background(), tx)
		assert.True(t, est.Fallback)
		assert.Equal(t, HeuristicProbability(tx), est.Probability)
	})
}
