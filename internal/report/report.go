// Package report aggregates transactions, alerts and cases into the
// summary and trend views used by compliance dashboards.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

// DefaultPeriod is the summary window when none is given.
const DefaultPeriod = 30 * 24 * time.Hour

// Grouping buckets for trends.
const (
	GroupDay   = "day"
	GroupWeek  = "week"
	GroupMonth = "month"
)

// Store is the read access reports need.
type Store interface {
	ListTransactionActivity(ctx context.Context, tenantID string, from, to time.Time) ([]*domain.TransactionActivity, error)
	CountCasesByStatus(ctx context.Context, tenantID string) (map[domain.CaseStatus]int, error)
}

// Summary is the headline view for a period.
type Summary struct {
	From              time.Time                 `json:"from"`
	To                time.Time                 `json:"to"`
	TotalTransactions int                       `json:"totalTransactions"`
	TotalAlerts       int                       `json:"totalAlerts"`
	TotalCases        int                       `json:"totalCases"`
	AlertRate         float64                   `json:"alertRate"`
	FlaggedAmount     decimal.Decimal           `json:"flaggedAmount"`
	CaseStatus        map[domain.CaseStatus]int `json:"caseStatusBreakdown"`
	RiskLevels        map[domain.RiskLevel]int  `json:"riskLevelBreakdown"`
}

// TrendPoint is one bucket of a trend series.
type TrendPoint struct {
	Period  string          `json:"period"`
	Total   int             `json:"total"`
	Flagged int             `json:"flagged"`
	Legit   int             `json:"legit"`
	Amount  decimal.Decimal `json:"amount"`
}

// Reporter builds reports from a store.
type Reporter struct {
	store Store
	now   func() time.Time
}

// New creates a reporter.
func New(store Store) *Reporter {
	return &Reporter{store: store, now: time.Now}
}

// Summary reports on transactions in [from, to). Zero bounds default to the
// last DefaultPeriod ending now. Case counts cover all cases of the tenant.
func (r *Reporter) Summary(ctx context.Context, tenantID string, from, to time.Time) (*Summary, error) {
	if to.IsZero() {
		to = r.now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-DefaultPeriod)
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", domain.ErrInvalidInput)
	}

	activity, err := r.store.ListTransactionActivity(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load activity: %w", err)
	}
	cases, err := r.store.CountCasesByStatus(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to count cases: %w", err)
	}

	s := &Summary{
		From:              from,
		To:                to,
		TotalTransactions: len(activity),
		FlaggedAmount:     decimal.Zero,
		CaseStatus:        make(map[domain.CaseStatus]int, len(domain.CaseStatuses)),
		RiskLevels:        make(map[domain.RiskLevel]int, len(domain.RiskLevels)),
	}
	for _, status := range domain.CaseStatuses {
		s.CaseStatus[status] = cases[status]
		s.TotalCases += cases[status]
	}
	for _, level := range domain.RiskLevels {
		s.RiskLevels[level] = 0
	}
	for _, a := range activity {
		if !a.Alerted {
			continue
		}
		s.TotalAlerts++
		s.FlaggedAmount = s.FlaggedAmount.Add(a.Amount)
		s.RiskLevels[a.RiskLevel]++
	}
	if s.TotalTransactions > 0 {
		rate := decimal.NewFromInt(int64(s.TotalAlerts)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(s.TotalTransactions))).
			Round(2)
		s.AlertRate = rate.InexactFloat64()
	}
	return s, nil
}

// Trends buckets the last days of activity by day, week (starting Monday)
// or month. Buckets without transactions are omitted.
func (r *Reporter) Trends(ctx context.Context, tenantID string, days int, groupBy string) ([]TrendPoint, error) {
	if days <= 0 {
		days = 30
	}
	if groupBy == "" {
		groupBy = GroupDay
	}
	switch groupBy {
	case GroupDay, GroupWeek, GroupMonth:
	default:
		return nil, fmt.Errorf("%w: unknown grouping %q", domain.ErrInvalidInput, groupBy)
	}

	to := r.now().UTC()
	from := to.AddDate(0, 0, -days)
	activity, err := r.store.ListTransactionActivity(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load activity: %w", err)
	}

	buckets := make(map[string]*TrendPoint)
	for _, a := range activity {
		key := bucketKey(a.Timestamp.UTC(), groupBy)
		p, ok := buckets[key]
		if !ok {
			p = &TrendPoint{Period: key, Amount: decimal.Zero}
			buckets[key] = p
		}
		p.Total++
		p.Amount = p.Amount.Add(a.Amount)
		if a.Alerted {
			p.Flagged++
		} else {
			p.Legit++
		}
	}

	points := make([]TrendPoint, 0, len(buckets))
	for _, p := range buckets {
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Period < points[j].Period })
	return points, nil
}

func bucketKey(ts time.Time, groupBy string) string {
	switch groupBy {
	case GroupWeek:
		offset := (int(ts.Weekday()) + 6) % 7
		return ts.AddDate(0, 0, -offset).Format(time.DateOnly)
	case GroupMonth:
		return ts.Format("2006-01")
	}
	return ts.Format(time.DateOnly)
}
