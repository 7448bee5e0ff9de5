package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ReportSummary handles GET /reports/summary?from=&to=.
func (h *Handler) ReportSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, err := queryTime(r, "from")
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := h.reports.Summary(ctx, GetTenantID(ctx), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ReportTrends handles GET /reports/trends?days=&groupBy=day|week|month.
func (h *Handler) ReportTrends(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	days, err := queryInt(r, "days")
	if err != nil {
		writeError(w, err)
		return
	}
	points, err := h.reports.Trends(ctx, GetTenantID(ctx), days, r.URL.Query().Get("groupBy"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trends": points,
	})
}

// queryTime accepts RFC 3339 timestamps or plain dates.
func queryTime(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s must be RFC 3339 or YYYY-MM-DD", domain.ErrInvalidInput, key)
}
