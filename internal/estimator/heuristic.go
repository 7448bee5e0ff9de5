package estimator

import (
	"context"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

// Heuristic weights in basis points so the result is bit-reproducible.
const (
	heuristicBase       = 500
	heuristicAmountHigh = 4000 // amount > 5000
	heuristicAmountMid  = 2000 // amount > 1000
	heuristicAmountLow  = 1000 // amount > 500
	heuristicCategory   = 3000
	heuristicBalance    = 2000
	heuristicCap        = 9500
)

var (
	amountHigh   = decimal.NewFromInt(5000)
	amountMid    = decimal.NewFromInt(1000)
	amountLow    = decimal.NewFromInt(500)
	balanceRatio = decimal.RequireFromString("1.5")
)

var riskyCategories = map[string]struct{}{
	"crypto":      {},
	"electronics": {},
	"transfer":    {},
	"gambling":    {},
	"gaming":      {},
}

// Heuristic is the fixed fallback estimator. It needs no artifacts and
// never fails.
type Heuristic struct{}

// Predict implements Estimator.
func (Heuristic) Predict(_ context.Context, tx *domain.Transaction) (float64, error) {
	return HeuristicProbability(tx), nil
}

// HeuristicProbability scores a transaction from its amount, category and
// origin balance movement, capped at 0.95.
func HeuristicProbability(tx *domain.Transaction) float64 {
	if tx == nil {
		return float64(heuristicBase) / 10000
	}

	bp := heuristicBase
	switch {
	case tx.Amount.GreaterThan(amountHigh):
		bp += heuristicAmountHigh
	case tx.Amount.GreaterThan(amountMid):
		bp += heuristicAmountMid
	case tx.Amount.GreaterThan(amountLow):
		bp += heuristicAmountLow
	}

	if _, ok := riskyCategories[strings.ToLower(tx.Category)]; ok {
		bp += heuristicCategory
	}

	if drainsOrigin(tx) {
		bp += heuristicBalance
	}

	if bp > heuristicCap {
		bp = heuristicCap
	}
	return float64(bp) / 10000
}

// drainsOrigin reports whether the origin balance moved by more than
// 1.5x the amount. Both balances must be present and non-zero.
func drainsOrigin(tx *domain.Transaction) bool {
	if tx.OldBalanceOrig == nil || tx.NewBalanceOrig == nil {
		return false
	}
	if tx.OldBalanceOrig.IsZero() || tx.NewBalanceOrig.IsZero() {
		return false
	}
	delta := tx.OldBalanceOrig.Sub(*tx.NewBalanceOrig).Abs()
	return delta.GreaterThan(tx.Amount.Mul(balanceRatio))
}
