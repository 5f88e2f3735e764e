package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/northpeak/studio/libs/httpx"
	"github.com/northpeak/studio/libs/mail"
	"github.com/northpeak/studio/libs/outbox"
	"github.com/northpeak/studio/services/content-service/internal/cms"
	"github.com/northpeak/studio/services/content-service/internal/storage"
)

// CMS is the read side of the headless CMS.
type CMS interface {
	Services(ctx context.Context) ([]cms.Service, error)
	Packages(ctx context.Context) ([]cms.Package, error)
	LegalPage(ctx context.Context, slug string) (cms.LegalPage, error)
}

type ObjectStore interface {
	Enabled() bool
	Put(ctx context.Context, key, contentType string, body []byte) error
	PublicURL(key string) string
}

type Handler struct {
	repo     *storage.Repository
	outbox   *outbox.Repository
	cms      CMS
	store    ObjectStore
	sender   mail.Sender
	operator string
	logger   *slog.Logger
	now      func() time.Time
}

type Deps struct {
	Repo          *storage.Repository
	Outbox        *outbox.Repository
	CMS           CMS
	Store         ObjectStore
	Sender        mail.Sender
	OperatorEmail string
	Logger        *slog.Logger
}

func New(d Deps) *Handler {
	return &Handler{
		repo:     d.Repo,
		outbox:   d.Outbox,
		cms:      d.CMS,
		store:    d.Store,
		sender:   d.Sender,
		operator: d.OperatorEmail,
		logger:   d.Logger,
		now:      time.Now,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/public/services", h.Services)
	mux.HandleFunc("/api/v1/public/packages", h.Packages)
	mux.HandleFunc("/api/v1/public/legal/{slug}", h.Legal)
	mux.HandleFunc("/api/v1/public/projects", h.PublicProjects)
	mux.HandleFunc("/api/v1/public/projects/{slug}", h.PublicProject)
	mux.HandleFunc("/api/v1/public/contact", h.Contact)
	mux.HandleFunc("/api/v1/admin/projects", h.AdminProjects)
	mux.HandleFunc("/api/v1/admin/projects/{id}", h.AdminProject)
	mux.HandleFunc("/api/v1/admin/projects/{id}/cover", h.UploadCover)
}

// RouteLabel collapses slugs and ids for metric labels.
var RouteLabel = httpx.RouteLabels(
	"/api/v1/public/services",
	"/api/v1/public/packages",
	"/api/v1/public/legal/{slug}",
	"/api/v1/public/projects",
	"/api/v1/public/projects/{slug}",
	"/api/v1/public/contact",
	"/api/v1/admin/projects",
	"/api/v1/admin/projects/{id}",
	"/api/v1/admin/projects/{id}/cover",
)

func (h *Handler) Services(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	services, err := h.cms.Services(r.Context())
	if err != nil {
		h.cmsError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, services)
}

func (h *Handler) Packages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	packages, err := h.cms.Packages(r.Context())
	if err != nil {
		h.cmsError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, packages)
}

func (h *Handler) Legal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	page, err := h.cms.LegalPage(r.Context(), r.PathValue("slug"))
	if err != nil {
		if errors.Is(err, cms.ErrNotFound) {
			http.Error(w, "page not found", http.StatusNotFound)
			return
		}
		h.cmsError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) cmsError(ctx context.Context, w http.ResponseWriter, err error) {
	h.logger.WarnContext(ctx, "cms request failed", "err", err)
	http.Error(w, "content unavailable", http.StatusBadGateway)
}

type projectView struct {
	ID         string   `json:"id"`
	Slug       string   `json:"slug"`
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Body       string   `json:"body"`
	TechStack  []string `json:"tech_stack"`
	ProjectURL string   `json:"project_url,omitempty"`
	CoverURL   string   `json:"cover_url,omitempty"`
	CoverKey   string   `json:"cover_image_key,omitempty"`
	Published  bool     `json:"published"`
	SortOrder  int      `json:"sort_order"`
	UpdatedAt  string   `json:"updated_at"`
}

func (h *Handler) projectView(p storage.Project, withKey bool) projectView {
	v := projectView{
		ID:         p.ID,
		Slug:       p.Slug,
		Title:      p.Title,
		Summary:    p.Summary,
		Body:       p.Body,
		TechStack:  p.TechStack,
		ProjectURL: p.ProjectURL,
		Published:  p.Published,
		SortOrder:  p.SortOrder,
		UpdatedAt:  p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if h.store != nil {
		v.CoverURL = h.store.PublicURL(p.CoverImageKey)
	}
	if withKey {
		v.CoverKey = p.CoverImageKey
	}
	return v
}

func (h *Handler) PublicProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	projects, err := h.repo.ListPublishedProjects(r.Context())
	if err != nil {
		http.Error(w, "failed to list projects", http.StatusInternalServerError)
		return
	}
	out := make([]projectView, 0, len(projects))
	for _, p := range projects {
		out = append(out, h.projectView(p, false))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) PublicProject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, err := h.repo.GetPublishedProject(r.Context(), r.PathValue("slug"))
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "project not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load project", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.projectView(p, false))
}
