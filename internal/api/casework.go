package api

import (
	"bytes"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/harrier/internal/casework"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/report"
)

// pageParams reads limit and offset.
func pageParams(r *http.Request) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(r, "offset"); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

// ListAlerts handles GET /alerts.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	minScore, err := queryInt(r, "minScore")
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	alerts, err := h.svc.ListAlerts(ctx, GetTenantID(ctx), domain.AlertFilter{
		Status:   domain.AlertStatus(q.Get("status")),
		Queue:    q.Get("queue"),
		MinScore: minScore,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlert handles GET /alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alert, err := h.svc.GetAlert(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// AlertActionRequest is the body for POST /alerts/{id}/action.
type AlertActionRequest struct {
	Action domain.AlertStatus `json:"action"`
}

// ActOnAlert handles POST /alerts/{id}/action.
func (h *Handler) ActOnAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req AlertActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	alert, err := h.svc.ActOnAlert(ctx, GetTenantID(ctx), chi.URLParam(r, "id"), req.Action)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// QueueRequest is the body for PUT /alerts/{id}/queue.
type QueueRequest struct {
	Queue string `json:"queue"`
}

// AssignAlertQueue handles PUT /alerts/{id}/queue.
func (h *Handler) AssignAlertQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req QueueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	alert, err := h.svc.AssignAlertQueue(ctx, GetTenantID(ctx), chi.URLParam(r, "id"), req.Queue)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// ExplainAlert handles POST /alerts/{id}/explain.
func (h *Handler) ExplainAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	exp, err := h.svc.ExplainAlert(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// AnalystRequest names the analyst acting on a case.
type AnalystRequest struct {
	AnalystID string `json:"analystId"`
}

// OpenCase handles POST /alerts/{id}/case.
func (h *Handler) OpenCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req AnalystRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.OpenCase(ctx, GetTenantID(ctx), chi.URLParam(r, "id"), req.AnalystID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ListCases handles GET /cases.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	cases, err := h.svc.ListCases(ctx, GetTenantID(ctx), domain.CaseFilter{
		Status:    domain.CaseStatus(q.Get("status")),
		AnalystID: q.Get("analystId"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cases": cases,
		"count": len(cases),
	})
}

// GetCase handles GET /cases/{id}.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.svc.GetCase(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// CaseStatusRequest is the body for POST /cases/{id}/status.
type CaseStatusRequest struct {
	Status domain.CaseStatus `json:"status"`
}

// UpdateCaseStatus handles POST /cases/{id}/status.
func (h *Handler) UpdateCaseStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CaseStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.UpdateCaseStatus(ctx, GetTenantID(ctx), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// AssignCase handles PUT /cases/{id}/analyst.
func (h *Handler) AssignCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req AnalystRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.AssignCase(ctx, GetTenantID(ctx), chi.URLParam(r, "id"), req.AnalystID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// NoteRequest is the body for POST /cases/{id}/notes.
type NoteRequest struct {
	AnalystID string `json:"analystId"`
	Note      string `json:"note"`
}

// AddCaseNote handles POST /cases/{id}/notes.
func (h *Handler) AddCaseNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req NoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	note, err := h.svc.AddCaseNote(ctx, GetTenantID(ctx), chi.URLParam(r, "id"), req.AnalystID, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// ListCaseNotes handles GET /cases/{id}/notes.
func (h *Handler) ListCaseNotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	notes, err := h.svc.ListCaseNotes(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notes": notes,
		"count": len(notes),
	})
}

// ListSARs handles GET /sars.
func (h *Handler) ListSARs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	sars, err := h.svc.ListSARs(ctx, GetTenantID(ctx), domain.SARFilter{
		Status: domain.SARStatus(q.Get("status")),
		Search: q.Get("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sars":  sars,
		"count": len(sars),
	})
}

// CreateSAR handles POST /sars.
func (h *Handler) CreateSAR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var draft casework.SARDraft
	if !decodeJSON(w, r, &draft) {
		return
	}
	sar, err := h.svc.CreateSAR(ctx, GetTenantID(ctx), &draft)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sar)
}

// GetSAR handles GET /sars/{id}.
func (h *Handler) GetSAR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sar, err := h.svc.GetSAR(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sar)
}

// UpdateSAR handles PUT /sars/{id}.
func (h *Handler) UpdateSAR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var upd casework.SARUpdate
	if !decodeJSON(w, r, &upd) {
		return
	}
	sar, err := h.svc.UpdateSAR(ctx, GetTenantID(ctx), chi.URLParam(r, "id"), &upd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sar)
}

// FileSAR handles POST /sars/{id}/file.
func (h *Handler) FileSAR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sar, err := h.svc.FileSAR(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sar)
}

// SARStats handles GET /sars/stats.
func (h *Handler) SARStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.svc.SARStats(ctx, GetTenantID(ctx))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ExportSARs handles GET /sars/export?format=csv|json|xlsx.
func (h *Handler) ExportSARs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	format := q.Get("format")
	if format == "" {
		format = report.FormatCSV
	}

	// Buffer so a failed export still gets a clean error response.
	var buf bytes.Buffer
	if err := report.ExportSARs(ctx, h.svc, GetTenantID(ctx), domain.SARStatus(q.Get("status")), format, &buf); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", report.ContentType(format))
	w.Header().Set("Content-Disposition", `attachment; filename="sars.`+format+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
