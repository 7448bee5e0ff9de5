package casework

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/escalation"
	"github.com/opensource-finance/harrier/internal/estimator"
	"github.com/opensource-finance/harrier/internal/explain"
	"github.com/opensource-finance/harrier/internal/scoring"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// escalated ingests a very high risk transaction and returns its alert and case.
func escalated(t *testing.T, f *fixture, customerID int64) (*domain.Alert, *domain.Case) {
	t.Helper()
	req := veryHighRequest()
	req.CustomerID = customerID
	res, err := f.svc.Ingest(context.Background(), tenant, req)
	require.NoError(t, err)
	require.NotNil(t, res.Case)
	return res.Alert, res.Case
}

func TestAlertWorkflow(t *testing.T) {
	f := newFixture(t)
	f.withHighValueRule(t)
	ctx := context.Background()

	t.Run("ActionIsFinal", func(t *testing.T) {
		res, err := f.svc.Ingest(ctx, tenant, highRequest())
		require.NoError(t, err)

		reviewed, err := f.svc.ActOnAlert(ctx, tenant, res.Alert.ID, domain.AlertReviewed)
		require.NoError(t, err)
		assert.Equal(t, domain.AlertReviewed, reviewed.Status)

		_, err = f.svc.ActOnAlert(ctx, tenant, res.Alert.ID, domain.AlertDismissed)
		assert.True(t, errors.Is(err, domain.ErrIllegalTransition))

		_, err = f.svc.ActOnAlert(ctx, tenant, res.Alert.ID, "Escalated")
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("QueueReassignment", func(t *testing.T) {
		res, err := f.svc.Ingest(ctx, tenant, highRequest())
		require.NoError(t, err)

		moved, err := f.svc.AssignAlertQueue(ctx, tenant, res.Alert.ID, "  Sanctions Queue ")
		require.NoError(t, err)
		assert.Equal(t, "Sanctions Queue", moved.Queue)

		list, err := f.svc.ListAlerts(ctx, tenant, domain.AlertFilter{Queue: "Sanctions Queue"})
		require.NoError(t, err)
		require.Len(t, list, 1)

		_, err = f.svc.AssignAlertQueue(ctx, tenant, res.Alert.ID, " ")
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("ManualCase", func(t *testing.T) {
		res, err := f.svc.Ingest(ctx, tenant, highRequest())
		require.NoError(t, err)

		c, err := f.svc.OpenCase(ctx, tenant, res.Alert.ID, "analyst-7")
		require.NoError(t, err)
		assert.Equal(t, domain.CaseOpen, c.Status)
		assert.Equal(t, "analyst-7", c.AnalystID)

		_, err = f.svc.OpenCase(ctx, tenant, res.Alert.ID, "")
		assert.True(t, errors.Is(err, domain.ErrConflict))
	})

	t.Run("DismissedAlertCannotOpenCase", func(t *testing.T) {
		res, err := f.svc.Ingest(ctx, tenant, highRequest())
		require.NoError(t, err)
		_, err = f.svc.ActOnAlert(ctx, tenant, res.Alert.ID, domain.AlertDismissed)
		require.NoError(t, err)

		_, err = f.svc.OpenCase(ctx, tenant, res.Alert.ID, "")
		assert.True(t, errors.Is(err, domain.ErrIllegalTransition))
	})

	t.Run("TemplateExplanationStored", func(t *testing.T) {
		res, err := f.svc.Ingest(ctx, tenant, highRequest())
		require.NoError(t, err)

		exp, err := f.svc.ExplainAlert(ctx, tenant, res.Alert.ID)
		require.NoError(t, err)
		assert.Equal(t, explain.SourceTemplate, exp.Source)

		stored, err := f.svc.GetAlert(ctx, tenant, res.Alert.ID)
		require.NoError(t, err)
		assert.Equal(t, exp.Text, stored.Explanation)
	})

	t.Run("UnknownAlert", func(t *testing.T) {
		_, err := f.svc.ActOnAlert(ctx, tenant, "missing", domain.AlertReviewed)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestExplainAlertWithModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"Large transfer to a crypto exchange."}}]}`))
	}))
	defer srv.Close()

	f := newFixture(t)
	f.withHighValueRule(t)
	ctx := context.Background()

	svc := NewService(Deps{
		Repo:      f.repo,
		Engine:    f.engine,
		Scorer:    scoring.NewScorer(f.engine, estimator.New(domain.ModelConfig{Kind: estimator.KindHeuristic})),
		Explainer: explain.New(domain.ExplainConfig{APIKey: "k", BaseURL: srv.URL, Timeout: time.Second}),
	})

	res, err := svc.Ingest(ctx, tenant, highRequest())
	require.NoError(t, err)
	exp, err := svc.ExplainAlert(ctx, tenant, res.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, explain.SourceModel, exp.Source)
	assert.Equal(t, "Large transfer to a crypto exchange.", exp.Text)
}

func TestExplainKeepsConcurrentReview(t *testing.T) {
	f := newFixture(t)
	f.withHighValueRule(t)
	ctx := context.Background()

	res, err := f.svc.Ingest(ctx, tenant, highRequest())
	require.NoError(t, err)
	alertID := res.Alert.ID

	// The analyst reviews the alert while the model is still answering.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := f.svc.ActOnAlert(context.Background(), tenant, alertID, domain.AlertReviewed)
		assert.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"Large transfer to a crypto exchange."}}]}`))
	}))
	defer srv.Close()

	svc := NewService(Deps{
		Repo:      f.repo,
		Engine:    f.engine,
		Scorer:    scoring.NewScorer(f.engine, estimator.New(domain.ModelConfig{Kind: estimator.KindHeuristic})),
		Explainer: explain.New(domain.ExplainConfig{APIKey: "k", BaseURL: srv.URL, Timeout: time.Second}),
	})

	_, err = svc.ExplainAlert(ctx, tenant, alertID)
	require.NoError(t, err)

	stored, err := f.svc.GetAlert(ctx, tenant, alertID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertReviewed, stored.Status)
	assert.Equal(t, "Large transfer to a crypto exchange.", stored.Explanation)
	assert.Equal(t, domain.QueueGeneral, stored.Queue)
}

func TestStaleStatusWritesRejected(t *testing.T) {
	f := newFixture(t)
	f.withHighValueRule(t)
	ctx := context.Background()

	t.Run("Alert", func(t *testing.T) {
		res, err := f.svc.Ingest(ctx, tenant, highRequest())
		require.NoError(t, err)
		_, err = f.svc.ActOnAlert(ctx, tenant, res.Alert.ID, domain.AlertReviewed)
		require.NoError(t, err)

		// A writer still holding the Pending copy loses.
		err = f.repo.UpdateAlertStatus(ctx, tenant, res.Alert.ID, domain.AlertPending, domain.AlertDismissed, time.Now())
		assert.True(t, errors.Is(err, domain.ErrIllegalTransition), "got %v", err)

		err = f.repo.UpdateAlertStatus(ctx, tenant, "missing", domain.AlertPending, domain.AlertDismissed, time.Now())
		assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)

		_, err = f.svc.AssignAlertQueue(ctx, tenant, res.Alert.ID, "Sanctions Queue")
		require.NoError(t, err)
		stored, err := f.svc.GetAlert(ctx, tenant, res.Alert.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.AlertReviewed, stored.Status)
		assert.Equal(t, "Sanctions Queue", stored.Queue)
	})

	t.Run("CaseAfterFiling", func(t *testing.T) {
		_, c := escalated(t, f, 701)
		_, err := f.svc.UpdateCaseStatus(ctx, tenant, c.ID, domain.CaseInProgress)
		require.NoError(t, err)
		sar, err := f.svc.CreateSAR(ctx, tenant, &SARDraft{CaseID: c.ID, Description: "drain"})
		require.NoError(t, err)
		_, err = f.svc.FileSAR(ctx, tenant, sar.ID)
		require.NoError(t, err)

		assigned, err := f.svc.AssignCase(ctx, tenant, c.ID, "analyst-9")
		require.NoError(t, err)
		assert.Equal(t, domain.CaseSARFiled, assigned.Status)
		assert.Equal(t, "analyst-9", assigned.AnalystID)

		err = f.repo.UpdateCaseStatus(ctx, tenant, c.ID, domain.CaseInProgress, domain.CaseClosed, time.Now())
		assert.True(t, errors.Is(err, domain.ErrIllegalTransition), "got %v", err)

		// An edit prepared against the Draft copy cannot reopen the filed SAR.
		stale := *sar
		stale.Description = "rewritten"
		err = f.repo.UpdateSAR(ctx, tenant, &stale, domain.SARDraft)
		assert.True(t, errors.Is(err, domain.ErrIllegalTransition), "got %v", err)

		stored, err := f.svc.GetSAR(ctx, tenant, sar.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SARFiled, stored.Status)
		assert.Equal(t, "drain", stored.Description)
	})
}

func TestCaseNotesBumpUpdatedAt(t *testing.T) {
	f := newFixture(t)
	f.withHighValueRule(t)
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return t0 }
	_, older := escalated(t, f, 801)
	f.svc.now = func() time.Time { return t0.Add(time.Minute) }
	_, newer := escalated(t, f, 802)

	list, err := f.svc.ListCases(ctx, tenant, domain.CaseFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)

	f.svc.now = func() time.Time { return t0.Add(time.Hour) }
	_, err = f.svc.AddCaseNote(ctx, tenant, older.ID, "analyst-1", "Customer confirmed the transfer.")
	require.NoError(t, err)

	got, err := f.svc.GetCase(ctx, tenant, older.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(t0.Add(time.Hour)), "updatedAt=%v", got.UpdatedAt)

	list, err = f.svc.ListCases(ctx, tenant, domain.CaseFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, older.ID, list[0].ID)
}

func TestCaseWorkflow(t *testing.T) {
	f := newFixture(t)
	f.withHighValueRule(t)
	ctx := context.Background()
	_, c := escalated(t, f, 501)

	t.Run("StatusTransitions", func(t *testing.T) {
		_, err := f.svc.UpdateCaseStatus(ctx, tenant, c.ID, domain.CaseClosed)
		assert.True(t, errors.Is(err, domain.ErrIllegalTransition))

		_, err = f.svc.UpdateCaseStatus(ctx, tenant, c.ID, domain.CaseSARFiled)
		assert.True(t, errors.Is(err, domain.ErrIllegalTransition))

		updated, err := f.svc.UpdateCaseStatus(ctx, tenant, c.ID, domain.CaseInProgress)
		require.NoError(t, err)
		assert.Equal(t, domain.CaseInProgress, updated.Status)
	})

	t.Run("Assignment", func(t *testing.T) {
		assigned, err := f.svc.AssignCase(ctx, tenant, c.ID, "analyst-1")
		require.NoError(t, err)
		assert.Equal(t, "analyst-1", assigned.AnalystID)

		list, err := f.svc.ListCases(ctx, tenant, domain.CaseFilter{AnalystID: "analyst-1"})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, c.ID, list[0].ID)
	})

	t.Run("Notes", func(t *testing.T) {
		_, err := f.svc.AddCaseNote(ctx, tenant, c.ID, "analyst-1", "Called the customer.")
		require.NoError(t, err)
		_, err = f.svc.AddCaseNote(ctx, tenant, c.ID, "analyst-1", "Requested statements.")
		require.NoError(t, err)

		_, err = f.svc.AddCaseNote(ctx, tenant, c.ID, "analyst-1", "   ")
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
		_, err = f.svc.AddCaseNote(ctx, tenant, "missing", "analyst-1", "x")
		assert.True(t, errors.Is(err, domain.ErrNotFound))

		got, err := f.svc.GetCase(ctx, tenant, c.ID)
		require.NoError(t, err)
		require.Len(t, got.Notes, 2)
		assert.Equal(t, "Called the customer.", got.Notes[0].Note)
	})

	t.Run("Closed", func(t *testing.T) {
		closed, err := f.svc.UpdateCaseStatus(ctx, tenant, c.ID, domain.CaseClosed)
		require.NoError(t, err)
		assert.Equal(t, domain.CaseClosed, closed.Status)

		_, err = f.svc.UpdateCaseStatus(ctx, tenant, c.ID, domain.CaseOpen)
		assert.True(t, errors.Is(err, domain.ErrIllegalTransition))
	})
}

var sarNumber = regexp.MustCompile(`^SAR-\d{4}-\d{3}$`)

func TestSARWorkflow(t *testing.T) {
	f := newFixture(t)
	f.withHighValueRule(t)
	ctx := context.Background()
	_, c := escalated(t, f, 601)

	sar, err := f.svc.CreateSAR(ctx, tenant, &SARDraft{CaseID: c.ID, Description: "Structuring"})
	require.NoError(t, err)

	t.Run("DraftDefaults", func(t *testing.T) {
		assert.Regexp(t, sarNumber, sar.Number)
		assert.Equal(t, escalation.FormatSARNumber(time.Now().UTC().Year(), 1), sar.Number)
		assert.Equal(t, domain.SARDraft, sar.Status)
		assert.Equal(t, "Customer-601", sar.CustomerName)
		assert.True(t, sar.Amount.Equal(decimal.NewFromInt(6000)))
	})

	t.Run("OnePerCase", func(t *testing.T) {
		_, err := f.svc.CreateSAR(ctx, tenant, &SARDraft{CaseID: c.ID})
		assert.True(t, errors.Is(err, domain.ErrConflict))
	})

	t.Run("Update", func(t *testing.T) {
		pending := domain.SARPending
		name := "Jane Doe"
		amount := decimal.RequireFromString("5900.10")
		updated, err := f.svc.UpdateSAR(ctx, tenant, sar.ID, &SARUpdate{Status: &pending, CustomerName: &name, Amount: &amount})
		require.NoError(t, err)
		assert.Equal(t, domain.SARPending, updated.Status)
		assert.Equal(t, "Jane Doe", updated.CustomerName)

		draft := domain.SARDraft
		_, err = f.svc.UpdateSAR(ctx, tenant, sar.ID, &SARUpdate{Status: &draft})
		assert.True(t, errors.Is(err, domain.ErrIllegalTransition))

		filed := domain.SARFiled
		_, err = f.svc.UpdateSAR(ctx, tenant, sar.ID, &SARUpdate{Status: &filed})
		assert.True(t, errors.Is(err, domain.ErrIllegalTransition))
	})

	t.Run("File", func(t *testing.T) {
		filed, err := f.svc.FileSAR(ctx, tenant, sar.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SARFiled, filed.Status)
		require.NotNil(t, filed.FilingDate)

		gotCase, err := f.svc.GetCase(ctx, tenant, c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CaseSARFiled, gotCase.Status)

		_, err = f.svc.FileSAR(ctx, tenant, sar.ID)
		assert.True(t, errors.Is(err, domain.ErrIllegalTransition))

		desc := "late edit"
		_, err = f.svc.UpdateSAR(ctx, tenant, sar.ID, &SARUpdate{Description: &desc})
		assert.True(t, errors.Is(err, domain.ErrIllegalTransition))
	})

	t.Run("Stats", func(t *testing.T) {
		stats, err := f.svc.SARStats(ctx, tenant)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Filed)
		assert.Equal(t, 1, stats.Total)
	})

	t.Run("ClosedCaseRejectsSAR", func(t *testing.T) {
		_, other := escalated(t, f, 602)
		_, err := f.svc.UpdateCaseStatus(ctx, tenant, other.ID, domain.CaseInProgress)
		require.NoError(t, err)
		_, err = f.svc.UpdateCaseStatus(ctx, tenant, other.ID, domain.CaseClosed)
		require.NoError(t, err)

		_, err = f.svc.CreateSAR(ctx, tenant, &SARDraft{CaseID: other.ID})
		assert.True(t, errors.Is(err, domain.ErrIllegalTransition))
	})

	t.Run("RequiresCase", func(t *testing.T) {
		_, err := f.svc.CreateSAR(ctx, tenant, &SARDraft{})
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
		_, err = f.svc.CreateSAR(ctx, tenant, &SARDraft{CaseID: "missing"})
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestSARNumbersUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	f.withHighValueRule(t)
	ctx := context.Background()

	const n = 4
	cases := make([]*domain.Case, n)
	for i := range cases {
		_, cases[i] = escalated(t, f, int64(700+i))
	}

	var wg sync.WaitGroup
	numbers := make([]string, n)
	errs := make([]error, n)
	for i := range cases {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sar, err := f.svc.CreateSAR(ctx, tenant, &SARDraft{CaseID: cases[i].ID})
			errs[i] = err
			if err == nil {
				numbers[i] = sar.Number
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := range cases {
		require.NoError(t, errs[i])
		assert.False(t, seen[numbers[i]], "duplicate SAR number %s", numbers[i])
		seen[numbers[i]] = true
	}
}
