package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

// PaySimTransaction represents a row from the PaySim dataset.
type PaySimTransaction struct {
	Step           int
	Type           string
	Amount         decimal.Decimal
	NameOrig       string
	OldBalanceOrig decimal.Decimal
	NewBalanceOrig decimal.Decimal
	NameDest       string
	OldBalanceDest decimal.Decimal
	NewBalanceDest decimal.Decimal
	IsFraud        bool
}

var paySimColumns = []string{
	"step", "type", "amount", "nameorig", "oldbalanceorg", "newbalanceorig",
	"namedest", "oldbalancedest", "newbalancedest", "isfraud",
}

// ReadOptions filters rows while reading.
type ReadOptions struct {
	Limit      int
	FraudOnly  bool
	SampleRate float64
}

// readPaySim parses PaySim rows. Malformed rows are skipped and counted.
func readPaySim(r io.Reader, opts ReadOptions) ([]PaySimTransaction, int, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range paySimColumns {
		if _, ok := col[name]; !ok {
			return nil, 0, fmt.Errorf("missing column %q", name)
		}
	}

	var (
		out           []PaySimTransaction
		skipped       int
		sampleCounter int
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		isFraud := record[col["isfraud"]] == "1"
		if opts.FraudOnly && !isFraud {
			continue
		}
		if !isFraud && opts.SampleRate > 0 && opts.SampleRate < 1 {
			sampleCounter++
			if float64(sampleCounter%100)/100 >= opts.SampleRate {
				continue
			}
		}

		tx, err := parseRow(record, col)
		if err != nil {
			skipped++
			continue
		}
		tx.IsFraud = isFraud
		out = append(out, tx)

		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, skipped, nil
}

func parseRow(record []string, col map[string]int) (PaySimTransaction, error) {
	step, err := strconv.Atoi(record[col["step"]])
	if err != nil {
		return PaySimTransaction{}, err
	}
	amounts := make([]decimal.Decimal, 5)
	for i, name := range []string{"amount", "oldbalanceorg", "newbalanceorig", "oldbalancedest", "newbalancedest"} {
		if amounts[i], err = decimal.NewFromString(record[col[name]]); err != nil {
			return PaySimTransaction{}, err
		}
	}
	return PaySimTransaction{
		Step:           step,
		Type:           record[col["type"]],
		Amount:         amounts[0],
		NameOrig:       record[col["nameorig"]],
		OldBalanceOrig: amounts[1],
		NewBalanceOrig: amounts[2],
		NameDest:       record[col["namedest"]],
		OldBalanceDest: amounts[3],
		NewBalanceDest: amounts[4],
	}, nil
}

// accountNumber turns PaySim names like "C1231006815" into numeric IDs.
func accountNumber(name string) int64 {
	n, _ := strconv.ParseInt(strings.TrimLeft(name, "CMcm"), 10, 64)
	return n
}

// Request maps the row onto the ingestion API. PaySim has no merchant
// category, so the transfer type stands in for it.
func (tx PaySimTransaction) Request(id string) *domain.TransactionRequest {
	return &domain.TransactionRequest{
		TransactionID:   id,
		Amount:          tx.Amount,
		CustomerID:      accountNumber(tx.NameOrig),
		MerchantID:      accountNumber(tx.NameDest),
		Category:        tx.Type,
		TransactionType: tx.Type,
		OldBalanceOrig:  &tx.OldBalanceOrig,
		NewBalanceOrig:  &tx.NewBalanceOrig,
		OldBalanceDest:  &tx.OldBalanceDest,
		NewBalanceDest:  &tx.NewBalanceDest,
	}
}

// Confusion is a binary confusion matrix.
type Confusion struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64
}

// Add records one prediction.
func (c *Confusion) Add(predicted, actual bool) {
	switch {
	case predicted && actual:
		c.TruePositives++
	case predicted:
		c.FalsePositives++
	case actual:
		c.FalseNegatives++
	default:
		c.TrueNegatives++
	}
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Precision is TP / (TP + FP).
func (c Confusion) Precision() float64 {
	return ratio(c.TruePositives, c.TruePositives+c.FalsePositives)
}

// Recall is TP / (TP + FN).
func (c Confusion) Recall() float64 {
	return ratio(c.TruePositives, c.TruePositives+c.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (c Confusion) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is the share of correct predictions.
func (c Confusion) Accuracy() float64 {
	total := c.TruePositives + c.TrueNegatives + c.FalsePositives + c.FalseNegatives
	return ratio(c.TruePositives+c.TrueNegatives, total)
}
