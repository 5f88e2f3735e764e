package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/northpeak/studio/libs/httpx"
	"github.com/northpeak/studio/services/content-service/internal/storage"
)

const maxCoverBytes = 5 << 20

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var coverExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

type projectRequest struct {
	Slug       string   `json:"slug"`
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Body       string   `json:"body"`
	TechStack  []string `json:"tech_stack"`
	ProjectURL string   `json:"project_url"`
	Published  bool     `json:"published"`
	SortOrder  int      `json:"sort_order"`
}

func (req projectRequest) toProject(id string) (storage.Project, error) {
	p := storage.Project{
		ID:         id,
		Slug:       strings.TrimSpace(strings.ToLower(req.Slug)),
		Title:      strings.TrimSpace(req.Title),
		Summary:    strings.TrimSpace(req.Summary),
		Body:       req.Body,
		ProjectURL: strings.TrimSpace(req.ProjectURL),
		Published:  req.Published,
		SortOrder:  req.SortOrder,
		TechStack:  []string{},
	}
	for _, t := range req.TechStack {
		if t = strings.TrimSpace(t); t != "" {
			p.TechStack = append(p.TechStack, t)
		}
	}
	if p.Title == "" {
		return p, errors.New("title is required")
	}
	if !slugPattern.MatchString(p.Slug) {
		return p, errors.New("slug must be lowercase words joined by dashes")
	}
	return p, nil
}

func (h *Handler) AdminProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		projects, err := h.repo.ListProjects(r.Context())
		if err != nil {
			http.Error(w, "failed to list projects", http.StatusInternalServerError)
			return
		}
		out := make([]projectView, 0, len(projects))
		for _, p := range projects {
			out = append(out, h.projectView(p, true))
		}
		httpx.WriteJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req projectRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		p, err := req.toProject("")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		created, err := h.repo.CreateProject(r.Context(), p)
		if err != nil {
			writeProjectError(w, err, "failed to create project")
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, h.projectView(created, true))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) AdminProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !httpx.IsUUID(id) {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		p, err := h.repo.GetProject(r.Context(), id)
		if err != nil {
			writeProjectError(w, err, "failed to load project")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, h.projectView(p, true))
	case http.MethodPut:
		var req projectRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		p, err := req.toProject(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		updated, err := h.repo.UpdateProject(r.Context(), p)
		if err != nil {
			writeProjectError(w, err, "failed to update project")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, h.projectView(updated, true))
	case http.MethodDelete:
		if err := h.repo.DeleteProject(r.Context(), id); err != nil {
			writeProjectError(w, err, "failed to delete project")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// UploadCover accepts a multipart "file" field and stores it under projects/<id>/.
func (h *Handler) UploadCover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.store == nil || !h.store.Enabled() {
		http.Error(w, "object storage not configured", http.StatusServiceUnavailable)
		return
	}
	id := r.PathValue("id")
	if !httpx.IsUUID(id) {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}
	ctx := r.Context()

	if _, err := h.repo.GetProject(ctx, id); err != nil {
		writeProjectError(w, err, "failed to load project")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCoverBytes+1<<10)
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	body, err := io.ReadAll(io.LimitReader(file, maxCoverBytes+1))
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}
	if len(body) > maxCoverBytes {
		http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
		return
	}
	contentType := http.DetectContentType(body)
	ext, ok := coverExtensions[contentType]
	if !ok {
		http.Error(w, "unsupported image type", http.StatusUnsupportedMediaType)
		return
	}

	key := fmt.Sprintf("projects/%s/cover-%d.%s", id, h.now().Unix(), ext)
	if err := h.store.Put(ctx, key, contentType, body); err != nil {
		h.logger.ErrorContext(ctx, "cover upload failed", "project_id", id, "err", err)
		http.Error(w, "failed to store file", http.StatusBadGateway)
		return
	}
	updated, err := h.repo.SetCoverKey(ctx, id, key)
	if err != nil {
		writeProjectError(w, err, "failed to update project")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.projectView(updated, true))
}

func writeProjectError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case storage.IsNotFound(err):
		http.Error(w, "project not found", http.StatusNotFound)
	case storage.IsSlugTaken(err):
		http.Error(w, "slug already in use", http.StatusConflict)
	default:
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}
