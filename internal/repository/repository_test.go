package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() {
		os.Remove(tmpPath)
		os.Remove(tmpPath + "-wal")
		os.Remove(tmpPath + "-shm")
	})

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func testTransaction(id string, customerID int64, amount string, ts time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:         id,
		ExternalID: "EXT-" + id,
		Amount:     decimal.RequireFromString(amount),
		CustomerID: customerID,
		MerchantID: 42,
		Category:   "crypto",
		Type:       "TRANSFER",
		Timestamp:  ts,
		CreatedAt:  ts,
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := testTransaction("tx-001", 7, "6000.25", base)
		old := decimal.RequireFromString("10000")
		tx.OldBalanceOrig = &old

		if err := repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tenantID, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}

		if !retrieved.Amount.Equal(tx.Amount) {
			t.Errorf("expected Amount %s, got %s", tx.Amount, retrieved.Amount)
		}
		if retrieved.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, retrieved.TenantID)
		}
		if retrieved.OldBalanceOrig == nil || !retrieved.OldBalanceOrig.Equal(old) {
			t.Errorf("expected OldBalanceOrig %s, got %v", old, retrieved.OldBalanceOrig)
		}
		if retrieved.NewBalanceOrig != nil {
			t.Errorf("expected NewBalanceOrig to stay unset, got %v", retrieved.NewBalanceOrig)
		}
		if !retrieved.Timestamp.Equal(base) {
			t.Errorf("expected Timestamp %v, got %v", base, retrieved.Timestamp)
		}
	})

	t.Run("TransactionsAreImmutable", func(t *testing.T) {
		err := repo.SaveTransaction(ctx, tenantID, testTransaction("tx-001", 7, "1", base))
		if !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict, got: %v", err)
		}
	})

	t.Run("ExternalIDIsUniquePerTenant", func(t *testing.T) {
		resubmitted := testTransaction("tx-900", 7, "6000.25", base)
		resubmitted.ExternalID = "EXT-tx-001"
		if err := repo.SaveTransaction(ctx, tenantID, resubmitted); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict, got: %v", err)
		}
		if err := repo.SaveTransaction(ctx, "tenant-002", resubmitted); err != nil {
			t.Errorf("expected other tenant to accept the same external ID, got: %v", err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, "tenant-002", "tx-001")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := repo.SaveTransaction(ctx, "", &domain.Transaction{ID: "tx-test"}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
		if _, err := repo.ListAlerts(ctx, "", domain.AlertFilter{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("CountCustomerTransactions", func(t *testing.T) {
		for i, offset := range []time.Duration{-20 * time.Minute, -5 * time.Minute, -1 * time.Minute} {
			tx := testTransaction("tx-vel-"+string(rune('a'+i)), 9, "10", base.Add(offset))
			if err := repo.SaveTransaction(ctx, tenantID, tx); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}
		}

		count, err := repo.CountCustomerTransactions(ctx, tenantID, 9, base.Add(-10*time.Minute), base)
		if err != nil {
			t.Fatalf("CountCustomerTransactions failed: %v", err)
		}
		if count != 2 {
			t.Errorf("expected 2 transactions in window, got %d", count)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetTransaction(ctx, tenantID, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetAlert(ctx, tenantID, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetCaseByAlert(ctx, tenantID, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetSAR(ctx, tenantID, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestRules(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	high := &domain.Rule{
		ID:          "rule-high",
		Name:        "High Value Transaction",
		ScoreImpact: 50,
		Action:      domain.ActionReview,
		Active:      true,
		Priority:    1,
		Conditions:  domain.ParseConditions([]byte(`{"amount": {">": 5000}}`)),
	}
	velocity := &domain.Rule{
		ID:          "rule-velocity",
		Name:        "Velocity Check",
		ScoreImpact: 70,
		Active:      false,
		Priority:    2,
		Conditions:  domain.ParseConditions([]byte(`{"velocity": {">": 3}}`)),
		Expression:  `category != "payroll"`,
	}

	for _, r := range []*domain.Rule{velocity, high} {
		if err := repo.SaveRule(ctx, domain.GlobalTenantID, r); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}
	}

	t.Run("ListActiveRules", func(t *testing.T) {
		rules, err := repo.ListActiveRules(ctx, domain.GlobalTenantID)
		if err != nil {
			t.Fatalf("ListActiveRules failed: %v", err)
		}
		if len(rules) != 1 || rules[0].ID != "rule-high" {
			t.Fatalf("expected only the active rule, got %d rules", len(rules))
		}
		if len(rules[0].Conditions.Groups) != 1 {
			t.Errorf("expected conditions to round-trip, got %+v", rules[0].Conditions)
		}
	})

	t.Run("ListRulesByPriority", func(t *testing.T) {
		rules, err := repo.ListRules(ctx, domain.GlobalTenantID)
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		if len(rules) != 2 || rules[0].ID != "rule-high" || rules[1].ID != "rule-velocity" {
			t.Fatalf("expected rules in priority order, got %v", rules)
		}
		if rules[1].Expression != velocity.Expression {
			t.Errorf("expected expression %q, got %q", velocity.Expression, rules[1].Expression)
		}
	})

	t.Run("UpdateRule", func(t *testing.T) {
		velocity.Active = true
		velocity.ScoreImpact = 30
		if err := repo.SaveRule(ctx, domain.GlobalTenantID, velocity); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}
		got, err := repo.GetRule(ctx, domain.GlobalTenantID, velocity.ID)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if !got.Active || got.ScoreImpact != 30 {
			t.Errorf("expected updated rule, got active=%v impact=%d", got.Active, got.ScoreImpact)
		}
	})

	t.Run("DeleteRule", func(t *testing.T) {
		if err := repo.DeleteRule(ctx, domain.GlobalTenantID, velocity.ID); err != nil {
			t.Fatalf("DeleteRule failed: %v", err)
		}
		if err := repo.DeleteRule(ctx, domain.GlobalTenantID, velocity.ID); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestCaseworkChain(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tx := testTransaction("tx-001", 7, "6000", now)
	if err := repo.SaveTransaction(ctx, tenantID, tx); err != nil {
		t.Fatalf("SaveTransaction failed: %v", err)
	}

	alert := &domain.Alert{
		ID:             "alert-001",
		TransactionID:  tx.ID,
		RiskScore:      95,
		RiskLevel:      domain.RiskVeryHigh,
		Status:         domain.AlertPending,
		Queue:          domain.QueueHighProfile,
		RuleScore:      100,
		MLScore:        92,
		TriggeredRules: []domain.TriggeredRule{{Name: "High Value Transaction", ScoreImpact: 50}},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	c := &domain.Case{ID: "case-001", AlertID: alert.ID, Status: domain.CaseOpen, CreatedAt: now, UpdatedAt: now}

	t.Run("SaveAndGetAlert", func(t *testing.T) {
		if err := repo.SaveAlert(ctx, tenantID, alert); err != nil {
			t.Fatalf("SaveAlert failed: %v", err)
		}
		got, err := repo.GetAlert(ctx, tenantID, alert.ID)
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}
		if got.RiskScore != 95 || got.Queue != domain.QueueHighProfile {
			t.Errorf("unexpected alert: %+v", got)
		}
		if len(got.TriggeredRules) != 1 || got.TriggeredRules[0].Name != "High Value Transaction" {
			t.Errorf("expected triggered rules to round-trip, got %+v", got.TriggeredRules)
		}
	})

	t.Run("AlertRequiresTransaction", func(t *testing.T) {
		orphan := *alert
		orphan.ID = "alert-orphan"
		orphan.TransactionID = "tx-missing"
		if err := repo.SaveAlert(ctx, tenantID, &orphan); err == nil {
			t.Error("expected foreign key error for missing transaction")
		}
	})

	t.Run("ListAlertsFilter", func(t *testing.T) {
		alerts, err := repo.ListAlerts(ctx, tenantID, domain.AlertFilter{Status: domain.AlertPending, MinScore: 90})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(alerts) != 1 {
			t.Errorf("expected 1 alert, got %d", len(alerts))
		}

		alerts, err = repo.ListAlerts(ctx, tenantID, domain.AlertFilter{Queue: domain.QueueGeneral})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(alerts) != 0 {
			t.Errorf("expected no alerts in general queue, got %d", len(alerts))
		}
	})

	t.Run("OneCasePerAlert", func(t *testing.T) {
		if err := repo.SaveCase(ctx, tenantID, c); err != nil {
			t.Fatalf("SaveCase failed: %v", err)
		}
		dup := *c
		dup.ID = "case-002"
		if err := repo.SaveCase(ctx, tenantID, &dup); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict, got: %v", err)
		}
		got, err := repo.GetCaseByAlert(ctx, tenantID, alert.ID)
		if err != nil {
			t.Fatalf("GetCaseByAlert failed: %v", err)
		}
		if got.ID != c.ID {
			t.Errorf("expected case %s, got %s", c.ID, got.ID)
		}
	})

	t.Run("CaseNotes", func(t *testing.T) {
		for i, text := range []string{"first look", "called customer"} {
			note := &domain.CaseNote{
				ID:        "note-" + string(rune('a'+i)),
				CaseID:    c.ID,
				AnalystID: "analyst-1",
				Note:      text,
				CreatedAt: now.Add(time.Duration(i) * time.Minute),
			}
			if err := repo.AddCaseNote(ctx, tenantID, note); err != nil {
				t.Fatalf("AddCaseNote failed: %v", err)
			}
		}
		notes, err := repo.ListCaseNotes(ctx, tenantID, c.ID)
		if err != nil {
			t.Fatalf("ListCaseNotes failed: %v", err)
		}
		if len(notes) != 2 || notes[0].Note != "first look" {
			t.Errorf("expected notes oldest first, got %+v", notes)
		}

		got, err := repo.GetCase(ctx, tenantID, c.ID)
		if err != nil {
			t.Fatalf("GetCase failed: %v", err)
		}
		if !got.UpdatedAt.Equal(now.Add(time.Minute)) {
			t.Errorf("expected updatedAt bumped to the last note, got %v", got.UpdatedAt)
		}

		orphan := &domain.CaseNote{ID: "note-z", CaseID: "missing", Note: "lost", CreatedAt: now}
		if err := repo.AddCaseNote(ctx, tenantID, orphan); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	sar := &domain.SAR{
		ID:           "sar-001",
		Number:       "SAR-2026-001",
		CaseID:       c.ID,
		CustomerName: "Customer-7",
		Amount:       decimal.RequireFromString("6000"),
		Status:       domain.SARDraft,
		Description:  "Structuring into crypto",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	t.Run("SaveSAR", func(t *testing.T) {
		if err := repo.SaveSAR(ctx, tenantID, sar); err != nil {
			t.Fatalf("SaveSAR failed: %v", err)
		}
		n, err := repo.CountSARs(ctx, tenantID)
		if err != nil || n != 1 {
			t.Fatalf("expected 1 SAR, got %d (%v)", n, err)
		}
		dup := *sar
		dup.ID = "sar-002"
		dup.Number = "SAR-2026-002"
		if err := repo.SaveSAR(ctx, tenantID, &dup); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict for second SAR on case, got: %v", err)
		}
	})

	t.Run("SearchSARs", func(t *testing.T) {
		sars, err := repo.ListSARs(ctx, tenantID, domain.SARFilter{Search: "crypto"})
		if err != nil {
			t.Fatalf("ListSARs failed: %v", err)
		}
		if len(sars) != 1 {
			t.Errorf("expected 1 SAR, got %d", len(sars))
		}
		sars, err = repo.ListSARs(ctx, tenantID, domain.SARFilter{Status: domain.SARFiled})
		if err != nil {
			t.Fatalf("ListSARs failed: %v", err)
		}
		if len(sars) != 0 {
			t.Errorf("expected no filed SARs, got %d", len(sars))
		}
	})

	t.Run("FileSAR", func(t *testing.T) {
		filedAt := now.Add(time.Hour)
		if err := repo.FileSAR(ctx, tenantID, sar.ID, c.ID, filedAt); err != nil {
			t.Fatalf("FileSAR failed: %v", err)
		}

		gotSAR, err := repo.GetSAR(ctx, tenantID, sar.ID)
		if err != nil {
			t.Fatalf("GetSAR failed: %v", err)
		}
		if gotSAR.Status != domain.SARFiled {
			t.Errorf("expected SAR Filed, got %s", gotSAR.Status)
		}
		if gotSAR.FilingDate == nil || !gotSAR.FilingDate.Equal(filedAt) {
			t.Errorf("expected filing date %v, got %v", filedAt, gotSAR.FilingDate)
		}

		gotCase, err := repo.GetCase(ctx, tenantID, c.ID)
		if err != nil {
			t.Fatalf("GetCase failed: %v", err)
		}
		if gotCase.Status != domain.CaseSARFiled {
			t.Errorf("expected case SAR Filed, got %s", gotCase.Status)
		}

		if err := repo.FileSAR(ctx, tenantID, sar.ID, c.ID, filedAt); !errors.Is(err, domain.ErrIllegalTransition) {
			t.Errorf("expected ErrIllegalTransition on refiling, got: %v", err)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		stats, err := repo.SARStats(ctx, tenantID)
		if err != nil {
			t.Fatalf("SARStats failed: %v", err)
		}
		if stats.Filed != 1 || stats.Total != 1 {
			t.Errorf("unexpected stats: %+v", stats)
		}

		counts, err := repo.CountCasesByStatus(ctx, tenantID)
		if err != nil {
			t.Fatalf("CountCasesByStatus failed: %v", err)
		}
		if counts[domain.CaseSARFiled] != 1 {
			t.Errorf("expected 1 SAR Filed case, got %v", counts)
		}
	})

	t.Run("TransactionActivity", func(t *testing.T) {
		quiet := testTransaction("tx-002", 8, "20", now.Add(time.Minute))
		if err := repo.SaveTransaction(ctx, tenantID, quiet); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		activity, err := repo.ListTransactionActivity(ctx, tenantID, time.Time{}, time.Time{})
		if err != nil {
			t.Fatalf("ListTransactionActivity failed: %v", err)
		}
		if len(activity) != 2 {
			t.Fatalf("expected 2 transactions, got %d", len(activity))
		}
		if !activity[0].Alerted || activity[0].RiskScore != 95 {
			t.Errorf("expected first transaction alerted, got %+v", activity[0])
		}
		if activity[1].Alerted {
			t.Errorf("expected second transaction not alerted")
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		if got := repo.rebind(tt.input); got != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{PostgresUser: "harrier", PostgresPassword: "s3cret pass"})
	want := "host=localhost port=5432 dbname=harrier sslmode=disable user=harrier password='s3cret pass'"
	if dsn != want {
		t.Errorf("postgresDSN = %q, want %q", dsn, want)
	}
}

func TestGuardedUpdates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tx := testTransaction("tx-001", 7, "6000", now)
	if err := repo.SaveTransaction(ctx, tenantID, tx); err != nil {
		t.Fatalf("SaveTransaction failed: %v", err)
	}
	alert := &domain.Alert{
		ID:            "alert-001",
		TransactionID: tx.ID,
		RiskScore:     85,
		RiskLevel:     domain.RiskHigh,
		Status:        domain.AlertPending,
		Queue:         domain.QueueGeneral,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := repo.SaveAlert(ctx, tenantID, alert); err != nil {
		t.Fatalf("SaveAlert failed: %v", err)
	}
	c := &domain.Case{ID: "case-001", AlertID: alert.ID, Status: domain.CaseOpen, CreatedAt: now, UpdatedAt: now}
	if err := repo.SaveCase(ctx, tenantID, c); err != nil {
		t.Fatalf("SaveCase failed: %v", err)
	}

	t.Run("AlertStatus", func(t *testing.T) {
		later := now.Add(time.Minute)
		if err := repo.UpdateAlertStatus(ctx, tenantID, alert.ID, domain.AlertPending, domain.AlertReviewed, later); err != nil {
			t.Fatalf("UpdateAlertStatus failed: %v", err)
		}
		err := repo.UpdateAlertStatus(ctx, tenantID, alert.ID, domain.AlertPending, domain.AlertDismissed, later)
		if !errors.Is(err, domain.ErrIllegalTransition) {
			t.Errorf("expected ErrIllegalTransition, got: %v", err)
		}
		if err := repo.UpdateAlertStatus(ctx, "tenant-002", alert.ID, domain.AlertPending, domain.AlertDismissed, later); err != ErrNotFound {
			t.Errorf("expected ErrNotFound for other tenant, got: %v", err)
		}
	})

	t.Run("ScopedAlertColumns", func(t *testing.T) {
		later := now.Add(2 * time.Minute)
		if err := repo.SetAlertQueue(ctx, tenantID, alert.ID, "Sanctions Queue", later); err != nil {
			t.Fatalf("SetAlertQueue failed: %v", err)
		}
		if err := repo.SetAlertExplanation(ctx, tenantID, alert.ID, "Large crypto transfer.", later); err != nil {
			t.Fatalf("SetAlertExplanation failed: %v", err)
		}
		got, err := repo.GetAlert(ctx, tenantID, alert.ID)
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}
		if got.Status != domain.AlertReviewed || got.Queue != "Sanctions Queue" || got.Explanation != "Large crypto transfer." {
			t.Errorf("unexpected alert %+v", got)
		}
		if err := repo.SetAlertQueue(ctx, tenantID, "missing", "x", later); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("CaseStatusAndAssignment", func(t *testing.T) {
		later := now.Add(3 * time.Minute)
		if err := repo.UpdateCaseStatus(ctx, tenantID, c.ID, domain.CaseOpen, domain.CaseInProgress, later); err != nil {
			t.Fatalf("UpdateCaseStatus failed: %v", err)
		}
		err := repo.UpdateCaseStatus(ctx, tenantID, c.ID, domain.CaseOpen, domain.CaseClosed, later)
		if !errors.Is(err, domain.ErrIllegalTransition) {
			t.Errorf("expected ErrIllegalTransition, got: %v", err)
		}
		if err := repo.AssignCase(ctx, tenantID, c.ID, "analyst-1", later.Add(time.Minute)); err != nil {
			t.Fatalf("AssignCase failed: %v", err)
		}
		got, err := repo.GetCase(ctx, tenantID, c.ID)
		if err != nil {
			t.Fatalf("GetCase failed: %v", err)
		}
		if got.Status != domain.CaseInProgress || got.AnalystID != "analyst-1" {
			t.Errorf("unexpected case %+v", got)
		}
		if !got.UpdatedAt.Equal(later.Add(time.Minute)) {
			t.Errorf("expected updatedAt %v, got %v", later.Add(time.Minute), got.UpdatedAt)
		}
	})

	t.Run("SAREditAfterFiling", func(t *testing.T) {
		sar := &domain.SAR{
			ID:        "sar-001",
			Number:    "SAR-2026-001",
			CaseID:    c.ID,
			Amount:    decimal.RequireFromString("6000"),
			Status:    domain.SARDraft,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repo.SaveSAR(ctx, tenantID, sar); err != nil {
			t.Fatalf("SaveSAR failed: %v", err)
		}
		sar.Description = "first draft"
		if err := repo.UpdateSAR(ctx, tenantID, sar, domain.SARDraft); err != nil {
			t.Fatalf("UpdateSAR failed: %v", err)
		}
		if err := repo.FileSAR(ctx, tenantID, sar.ID, c.ID, now.Add(time.Hour)); err != nil {
			t.Fatalf("FileSAR failed: %v", err)
		}

		sar.Description = "late edit"
		err := repo.UpdateSAR(ctx, tenantID, sar, domain.SARDraft)
		if !errors.Is(err, domain.ErrIllegalTransition) {
			t.Errorf("expected ErrIllegalTransition, got: %v", err)
		}
		got, err := repo.GetSAR(ctx, tenantID, sar.ID)
		if err != nil {
			t.Fatalf("GetSAR failed: %v", err)
		}
		if got.Status != domain.SARFiled || got.Description != "first draft" {
			t.Errorf("filed SAR changed: %+v", got)
		}
	})
}
