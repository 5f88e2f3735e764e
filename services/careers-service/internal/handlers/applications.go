package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/northpeak/studio/libs/httpx"
	"github.com/northpeak/studio/services/careers-service/internal/pipeline"
	"github.com/northpeak/studio/services/careers-service/internal/storage"
)

const downloadTTL = 15 * time.Minute

type DocumentRequester interface {
	Request(ctx context.Context, applicationID string, useAI bool) error
}

type Presigner interface {
	Enabled() bool
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Handler struct {
	apps      *storage.Repository
	requester DocumentRequester
	store     Presigner
	logger    *slog.Logger
}

func New(apps *storage.Repository, requester DocumentRequester, store Presigner, logger *slog.Logger) *Handler {
	return &Handler{apps: apps, requester: requester, store: store, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/admin/applications", h.Applications)
	mux.HandleFunc("/api/v1/admin/applications/{id}", h.Application)
	mux.HandleFunc("/api/v1/admin/applications/{id}/documents", h.Documents)
}

// RouteLabel collapses application ids for metric labels.
var RouteLabel = httpx.RouteLabels(
	"/api/v1/admin/applications",
	"/api/v1/admin/applications/{id}",
	"/api/v1/admin/applications/{id}/documents",
)

type applicationView struct {
	ID              string  `json:"id"`
	Company         string  `json:"company"`
	RoleTitle       string  `json:"role_title"`
	JobURL          string  `json:"job_url"`
	JobDescription  string  `json:"job_description"`
	ContactName     string  `json:"contact_name"`
	Status          string  `json:"status"`
	DocumentsStatus string  `json:"documents_status"`
	DocumentsError  string  `json:"documents_error,omitempty"`
	CoverLetterText string  `json:"cover_letter_text,omitempty"`
	Notes           string  `json:"notes"`
	AppliedAt       *string `json:"applied_at"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

func newApplicationView(a storage.Application) applicationView {
	v := applicationView{
		ID:              a.ID,
		Company:         a.Company,
		RoleTitle:       a.RoleTitle,
		JobURL:          a.JobURL,
		JobDescription:  a.JobDescription,
		ContactName:     a.ContactName,
		Status:          string(a.Status),
		DocumentsStatus: string(a.DocumentsStatus),
		DocumentsError:  a.DocumentsError,
		CoverLetterText: a.CoverLetterText,
		Notes:           a.Notes,
		CreatedAt:       a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       a.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if a.AppliedAt != nil {
		s := a.AppliedAt.UTC().Format(time.RFC3339)
		v.AppliedAt = &s
	}
	return v
}

type applicationRequest struct {
	Company        *string `json:"company"`
	RoleTitle      *string `json:"role_title"`
	JobURL         *string `json:"job_url"`
	JobDescription *string `json:"job_description"`
	ContactName    *string `json:"contact_name"`
	Status         *string `json:"status"`
	Notes          *string `json:"notes"`
}

// changes validates req. create requires company and role title.
func (req applicationRequest) changes(create bool) (storage.Changes, string) {
	trim := func(p *string) *string {
		if p == nil {
			return nil
		}
		s := strings.TrimSpace(*p)
		return &s
	}
	c := storage.Changes{
		Company:        trim(req.Company),
		RoleTitle:      trim(req.RoleTitle),
		JobURL:         trim(req.JobURL),
		JobDescription: req.JobDescription,
		ContactName:    trim(req.ContactName),
		Notes:          req.Notes,
	}
	if create && (c.Company == nil || *c.Company == "") {
		return c, "company is required"
	}
	if create && (c.RoleTitle == nil || *c.RoleTitle == "") {
		return c, "role_title is required"
	}
	if c.Company != nil && (*c.Company == "" || len(*c.Company) > 200) {
		return c, "company must be 1-200 characters"
	}
	if c.RoleTitle != nil && (*c.RoleTitle == "" || len(*c.RoleTitle) > 200) {
		return c, "role_title must be 1-200 characters"
	}
	if c.JobDescription != nil && len(*c.JobDescription) > 20000 {
		return c, "job_description is too long"
	}
	if req.Status != nil {
		s := storage.Status(strings.TrimSpace(*req.Status))
		if !s.Valid() {
			return c, "invalid status"
		}
		c.Status = &s
	}
	return c, ""
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (h *Handler) Applications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status := storage.Status(r.URL.Query().Get("status"))
		if status != "" && !status.Valid() {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		apps, err := h.apps.List(r.Context(), status, limit)
		if err != nil {
			http.Error(w, "failed to list applications", http.StatusInternalServerError)
			return
		}
		out := make([]applicationView, 0, len(apps))
		for _, a := range apps {
			out = append(out, newApplicationView(a))
		}
		httpx.WriteJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req applicationRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		c, msg := req.changes(true)
		if msg != "" {
			http.Error(w, msg, http.StatusBadRequest)
			return
		}
		a := storage.Application{
			Company:        *c.Company,
			RoleTitle:      *c.RoleTitle,
			JobURL:         deref(c.JobURL),
			JobDescription: deref(c.JobDescription),
			ContactName:    deref(c.ContactName),
			Notes:          deref(c.Notes),
		}
		if c.Status != nil {
			a.Status = *c.Status
		}
		created, err := h.apps.Create(r.Context(), a)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "create application failed", "err", err)
			http.Error(w, "failed to create application", http.StatusInternalServerError)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, newApplicationView(created))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) Application(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !httpx.IsUUID(id) {
		http.Error(w, "application not found", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		a, err := h.apps.Get(r.Context(), id)
		if err != nil {
			writeApplicationError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, newApplicationView(a))
	case http.MethodPatch:
		var req applicationRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		c, msg := req.changes(false)
		if msg != "" {
			http.Error(w, msg, http.StatusBadRequest)
			return
		}
		a, err := h.apps.Update(r.Context(), id, c)
		if err != nil {
			writeApplicationError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, newApplicationView(a))
	case http.MethodDelete:
		if err := h.apps.Delete(r.Context(), id); err != nil {
			writeApplicationError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type documentsRequest struct {
	UseAI bool `json:"use_ai"`
}

type documentsResponse struct {
	Status         string `json:"documents_status"`
	Error          string `json:"documents_error,omitempty"`
	CVURL          string `json:"cv_url,omitempty"`
	CoverLetterURL string `json:"cover_letter_url,omitempty"`
	ExpiresIn      int64  `json:"expires_in,omitempty"`
}

func (h *Handler) Documents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !httpx.IsUUID(id) {
		http.Error(w, "application not found", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodPost:
		if !h.store.Enabled() {
			http.Error(w, "document storage is not configured", http.StatusServiceUnavailable)
			return
		}
		var req documentsRequest
		if r.ContentLength != 0 {
			if err := httpx.DecodeJSON(r, &req); err != nil {
				http.Error(w, "invalid json body", http.StatusBadRequest)
				return
			}
		}
		if err := h.requester.Request(r.Context(), id, req.UseAI); err != nil {
			if errors.Is(err, pipeline.ErrAlreadyPending) {
				http.Error(w, "documents already pending", http.StatusConflict)
				return
			}
			writeApplicationError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusAccepted, documentsResponse{Status: string(storage.DocumentsPending)})
	case http.MethodGet:
		a, err := h.apps.Get(r.Context(), id)
		if err != nil {
			writeApplicationError(w, err)
			return
		}
		resp := documentsResponse{Status: string(a.DocumentsStatus), Error: a.DocumentsError}
		if a.DocumentsStatus == storage.DocumentsReady {
			if resp.CVURL, err = h.store.PresignGet(r.Context(), a.CVKey, downloadTTL); err == nil {
				resp.CoverLetterURL, err = h.store.PresignGet(r.Context(), a.CoverLetterKey, downloadTTL)
			}
			if err != nil {
				h.logger.WarnContext(r.Context(), "presign failed", "application_id", id, "err", err)
				http.Error(w, "documents unavailable", http.StatusBadGateway)
				return
			}
			resp.ExpiresIn = int64(downloadTTL.Seconds())
		}
		httpx.WriteJSON(w, http.StatusOK, resp)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeApplicationError(w http.ResponseWriter, err error) {
	if storage.IsNotFound(err) {
		http.Error(w, "application not found", http.StatusNotFound)
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}
