package casework

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/estimator"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/scoring"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenant = "tenant-001"

type fixture struct {
	svc    *Service
	repo   domain.Repository
	engine *rules.Engine
	bus    *bus.ChannelBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "casework.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	engine, err := rules.NewEngine()
	require.NoError(t, err)

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	svc := NewService(Deps{
		Repo:   repo,
		Engine: engine,
		Scorer: scoring.NewScorer(engine, estimator.New(domain.ModelConfig{Kind: estimator.KindHeuristic})),
		Bus:    eventBus,
	})
	return &fixture{svc: svc, repo: repo, engine: engine, bus: eventBus}
}

// withHighValueRule stores and loads a rule adding 100 for amounts over 5000.
func (f *fixture) withHighValueRule(t *testing.T) {
	t.Helper()
	_, err := f.svc.SaveRule(context.Background(), &domain.Rule{
		Name:        "High Value",
		ScoreImpact: 100,
		Active:      true,
		Conditions:  domain.ParseConditions([]byte(`{"amount": {">": 5000}}`)),
	})
	require.NoError(t, err)
	_, err = f.svc.ReloadRules(context.Background())
	require.NoError(t, err)
}

var externalSeq atomic.Int64

// externalID returns a transaction ID unique within the test binary.
func externalID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, externalSeq.Add(1))
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// Heuristic 0.95 plus a full rule score fuses to 97: alert and case.
func veryHighRequest() *domain.TransactionRequest {
	return &domain.TransactionRequest{
		TransactionID:   externalID("EXT-VH"),
		Amount:          decimal.RequireFromString("6000"),
		CustomerID:      42,
		MerchantID:      7,
		Category:        "crypto",
		TransactionType: "TRANSFER",
		OldBalanceOrig:  dec("20000"),
		NewBalanceOrig:  dec("1000"),
	}
}

// Heuristic 0.75 plus a full rule score fuses to 85: alert only.
func highRequest() *domain.TransactionRequest {
	return &domain.TransactionRequest{
		TransactionID:   externalID("EXT-H"),
		Amount:          decimal.RequireFromString("6000"),
		CustomerID:      43,
		MerchantID:      7,
		Category:        "crypto",
		TransactionType: "TRANSFER",
	}
}

func lowRequest() *domain.TransactionRequest {
	return &domain.TransactionRequest{
		TransactionID:   externalID("EXT-L"),
		Amount:          decimal.RequireFromString("100"),
		CustomerID:      44,
		MerchantID:      7,
		Category:        "Retail",
		TransactionType: "PAYMENT",
	}
}

func TestIngest(t *testing.T) {
	f := newFixture(t)
	f.withHighValueRule(t)
	ctx := context.Background()

	t.Run("LowRiskPersistsOnlyTransaction", func(t *testing.T) {
		req := lowRequest()
		res, err := f.svc.Ingest(ctx, tenant, req)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Score.RiskScore)
		assert.Equal(t, domain.RiskVeryLow, res.Score.RiskLevel)
		assert.Nil(t, res.Alert)
		assert.Nil(t, res.Case)

		stored, err := f.svc.GetTransaction(ctx, tenant, res.Transaction.ID)
		require.NoError(t, err)
		assert.Equal(t, req.TransactionID, stored.ExternalID)
	})

	t.Run("HighRiskRaisesAlertOnly", func(t *testing.T) {
		res, err := f.svc.Ingest(ctx, tenant, highRequest())
		require.NoError(t, err)
		assert.Equal(t, 85, res.Score.RiskScore)
		require.NotNil(t, res.Alert)
		assert.Nil(t, res.Case)
		assert.Equal(t, domain.AlertPending, res.Alert.Status)
		assert.Equal(t, domain.QueueGeneral, res.Alert.Queue)
		assert.Equal(t, res.Transaction.ID, res.Alert.TransactionID)

		_, err = f.repo.GetCaseByAlert(ctx, tenant, res.Alert.ID)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("VeryHighRiskOpensCase", func(t *testing.T) {
		res, err := f.svc.Ingest(ctx, tenant, veryHighRequest())
		require.NoError(t, err)
		assert.Equal(t, 97, res.Score.RiskScore)
		assert.Equal(t, domain.RiskVeryHigh, res.Score.RiskLevel)
		require.NotNil(t, res.Alert)
		require.NotNil(t, res.Case)
		assert.Equal(t, domain.QueueHighProfile, res.Alert.Queue)
		assert.Equal(t, domain.CaseOpen, res.Case.Status)
		assert.Equal(t, res.Alert.ID, res.Case.AlertID)
		require.Len(t, res.Alert.TriggeredRules, 1)
		assert.Equal(t, "High Value", res.Alert.TriggeredRules[0].Name)
	})

	t.Run("RejectsInvalidRequests", func(t *testing.T) {
		_, err := f.svc.Ingest(ctx, "", lowRequest())
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))

		bad := lowRequest()
		bad.Amount = decimal.Zero
		_, err = f.svc.Ingest(ctx, tenant, bad)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestIngestPublishesEvents(t *testing.T) {
	f := newFixture(t)
	f.withHighValueRule(t)
	ctx := context.Background()

	got := make(chan *domain.Message, 4)
	for _, topic := range []string{domain.TopicAlertRaised, domain.TopicCaseOpened} {
		_, err := f.bus.Subscribe(ctx, tenant, topic, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		require.NoError(t, err)
	}

	res, err := f.svc.Ingest(ctx, tenant, veryHighRequest())
	require.NoError(t, err)

	topics := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-got:
			topics[msg.Topic] = true
			if msg.Topic == domain.TopicAlertRaised {
				var alert domain.Alert
				require.NoError(t, json.Unmarshal(msg.Payload, &alert))
				assert.Equal(t, res.Alert.ID, alert.ID)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for events")
		}
	}
	assert.True(t, topics[domain.TopicAlertRaised])
	assert.True(t, topics[domain.TopicCaseOpened])
}

type failingCaseRepo struct {
	domain.Repository
}

func (failingCaseRepo) SaveCase(ctx context.Context, tenantID string, c *domain.Case) error {
	return errors.New("disk full")
}

func TestIngestCaseFailureKeepsAlert(t *testing.T) {
	f := newFixture(t)
	f.withHighValueRule(t)
	ctx := context.Background()

	svc := NewService(Deps{
		Repo:   failingCaseRepo{f.repo},
		Engine: f.engine,
		Scorer: scoring.NewScorer(f.engine, estimator.New(domain.ModelConfig{Kind: estimator.KindHeuristic})),
	})

	res, err := svc.Ingest(ctx, tenant, veryHighRequest())
	require.Error(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.Alert)
	assert.Nil(t, res.Case)

	stored, err := f.repo.GetAlert(ctx, tenant, res.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertPending, stored.Status)
}

func TestScoreIsDryRun(t *testing.T) {
	f := newFixture(t)
	f.withHighValueRule(t)
	ctx := context.Background()

	req := veryHighRequest()
	first, err := f.svc.Score(ctx, tenant, req)
	require.NoError(t, err)
	second, err := f.svc.Score(ctx, tenant, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 97, first.RiskScore)

	alerts, err := f.svc.ListAlerts(ctx, tenant, domain.AlertFilter{})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestVelocityFeedsRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SaveRule(ctx, &domain.Rule{
		Name:        "Burst",
		ScoreImpact: 40,
		Active:      true,
		Conditions:  domain.ParseConditions([]byte(`{"velocity": {">": 2}}`)),
	})
	require.NoError(t, err)
	_, err = f.svc.ReloadRules(ctx)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	for i := 3; i >= 1; i-- {
		req := lowRequest()
		ts := now.Add(-time.Duration(i) * time.Minute)
		req.Timestamp = &ts
		_, err := f.svc.Ingest(ctx, tenant, req)
		require.NoError(t, err)
	}

	req := lowRequest()
	req.Timestamp = &now
	res, err := f.svc.Score(ctx, tenant, req)
	require.NoError(t, err)
	assert.Equal(t, 40, res.RuleScore)

	other := lowRequest()
	other.CustomerID = 99
	other.Timestamp = &now
	res, err = f.svc.Score(ctx, tenant, other)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RuleScore)
}

func TestRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("SeedBaselineOnce", func(t *testing.T) {
		require.NoError(t, f.svc.SeedBaseline(ctx))
		require.NoError(t, f.svc.SeedBaseline(ctx))

		stored, err := f.svc.ListRules(ctx)
		require.NoError(t, err)
		assert.Len(t, stored, len(rules.BaselineRules()))

		n, err := f.svc.ReloadRules(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("InvalidExpressionRejected", func(t *testing.T) {
		_, err := f.svc.SaveRule(ctx, &domain.Rule{
			Name:       "Broken",
			Active:     true,
			Expression: "amount >",
		})
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("UpdateKeepsIdentity", func(t *testing.T) {
		created, err := f.svc.SaveRule(ctx, &domain.Rule{
			Name:       "Temp",
			Active:     true,
			Expression: "amount > 1.0",
		})
		require.NoError(t, err)

		updated, err := f.svc.UpdateRule(ctx, created.ID, &domain.Rule{
			Name:        "Temp v2",
			ScoreImpact: 5,
			Active:      false,
			Expression:  "amount > 2.0",
		})
		require.NoError(t, err)
		assert.Equal(t, created.ID, updated.ID)

		got, err := f.svc.GetRule(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "Temp v2", got.Name)

		require.NoError(t, f.svc.DeleteRule(ctx, created.ID))
		_, err = f.svc.GetRule(ctx, created.ID)
		assert.True(t, errors.Is(err, domain.ErrNotFound))

		_, err = f.svc.UpdateRule(ctx, "missing", &domain.Rule{Name: "x", Expression: "true"})
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestIngestRejectsDuplicateTransactionID(t *testing.T) {
	f := newFixture(t)
	f.withHighValueRule(t)
	ctx := context.Background()

	req := highRequest()
	_, err := f.svc.Ingest(ctx, tenant, req)
	require.NoError(t, err)

	_, err = f.svc.Ingest(ctx, tenant, req)
	assert.True(t, errors.Is(err, domain.ErrConflict), "got %v", err)

	alerts, err := f.svc.ListAlerts(ctx, tenant, domain.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	// External IDs are unique per tenant only.
	_, err = f.svc.Ingest(ctx, "tenant-002", req)
	require.NoError(t, err)

	blank := highRequest()
	blank.TransactionID = " "
	_, err = f.svc.Ingest(ctx, tenant, blank)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}
