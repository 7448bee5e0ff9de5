package main

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `step,type,amount,nameOrig,oldbalanceOrg,newbalanceOrig,nameDest,oldbalanceDest,newbalanceDest,isFraud,isFlaggedFraud
1,PAYMENT,9839.64,C1231006815,170136.0,160296.36,M1979787155,0.0,0.0,0,0
1,TRANSFER,181.0,C1305486145,181.0,0.0,C553264065,0.0,0.0,1,0
1,CASH_OUT,oops,C840083671,181.0,0.0,C38997010,21182.0,0.0,1,0
1,CASH_OUT,181.0,C840083671,181.0,0.0,C38997010,21182.0,0.0,1,0
`

func TestReadPaySim(t *testing.T) {
	txs, skipped, err := readPaySim(strings.NewReader(sample), ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, txs, 3)

	assert.Equal(t, "PAYMENT", txs[0].Type)
	assert.True(t, txs[0].Amount.Equal(decimal.RequireFromString("9839.64")))
	assert.False(t, txs[0].IsFraud)
	assert.True(t, txs[1].IsFraud)

	req := txs[1].Request("bench-1")
	assert.Equal(t, int64(1305486145), req.CustomerID)
	assert.Equal(t, int64(553264065), req.MerchantID)
	assert.Equal(t, "TRANSFER", req.Category)
	assert.True(t, req.NewBalanceOrig.IsZero())
	require.NoError(t, req.Validate())
}

func TestReadPaySimFilters(t *testing.T) {
	txs, _, err := readPaySim(strings.NewReader(sample), ReadOptions{FraudOnly: true})
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	txs, _, err = readPaySim(strings.NewReader(sample), ReadOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	_, _, err = readPaySim(strings.NewReader("step,type\n1,PAYMENT\n"), ReadOptions{})
	assert.Error(t, err)
}

func TestConfusion(t *testing.T) {
	var c Confusion
	c.Add(true, true)
	c.Add(true, true)
	c.Add(true, false)
	c.Add(false, true)
	c.Add(false, false)
	c.Add(false, false)

	assert.Equal(t, Confusion{TruePositives: 2, FalsePositives: 1, FalseNegatives: 1, TrueNegatives: 2}, c)
	assert.InDelta(t, 2.0/3, c.Precision(), 1e-9)
	assert.InDelta(t, 2.0/3, c.Recall(), 1e-9)
	assert.InDelta(t, 2.0/3, c.F1(), 1e-9)
	assert.InDelta(t, 4.0/6, c.Accuracy(), 1e-9)

	assert.Zero(t, Confusion{}.F1())
}
