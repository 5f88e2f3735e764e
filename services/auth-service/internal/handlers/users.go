package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/northpeak/studio/libs/auth"
	"github.com/northpeak/studio/libs/httpx"
	"github.com/northpeak/studio/services/auth-service/internal/storage"
)

var errLastAdmin = errors.New("at least one admin must remain")

type userView struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func newUserView(u storage.User) userView {
	return userView{
		ID:          u.ID,
		Email:       u.Email,
		Role:        u.Role,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   u.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type createUserRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
}

type updateUserRequest struct {
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

// Users serves GET (list) and POST (create) on /api/v1/admin/users.
func (h *AuthHandler) Users(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users, err := h.users.List(r.Context())
		if err != nil {
			http.Error(w, "failed to list users", http.StatusInternalServerError)
			return
		}
		out := make([]userView, 0, len(users))
		for _, u := range users {
			out = append(out, newUserView(u))
		}
		httpx.WriteJSON(w, http.StatusOK, out)
	case http.MethodPost:
		h.createUser(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AuthHandler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Role = strings.TrimSpace(req.Role)
	if req.Role == "" {
		req.Role = auth.RoleEditor
	}
	if msg := validateNewUser(req); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		http.Error(w, "failed to hash password", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	tx, err := h.users.Begin(ctx)
	if err != nil {
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	user, err := h.users.CreateTx(ctx, tx, storage.User{
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		DisplayName:  strings.TrimSpace(req.DisplayName),
	})
	if err != nil {
		if storage.IsDuplicateEmail(err) {
			http.Error(w, "email already registered", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}
	if err := h.audit.RecordTx(ctx, tx, "user.created", actorFrom(ctx), map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
		"role":    user.Role,
	}); err != nil {
		http.Error(w, "failed to record audit event", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit transaction", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, newUserView(user))
}

// User serves GET, PATCH and DELETE on /api/v1/admin/users/{id}.
func (h *AuthHandler) User(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if !httpx.IsUUID(id) {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, err := h.users.GetByID(r.Context(), id)
		if err != nil {
			writeUserError(w, err, "failed to load user")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, newUserView(user))
	case http.MethodPatch:
		h.updateUser(w, r, id)
	case http.MethodDelete:
		h.deleteUser(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AuthHandler) updateUser(w http.ResponseWriter, r *http.Request, id string) {
	var req updateUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Role = strings.TrimSpace(req.Role)
	if req.Role != "" && !validRole(req.Role) {
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.users.Begin(ctx)
	if err != nil {
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if req.Role == auth.RoleEditor {
		if err := h.ensureAnotherAdmin(ctx, tx, id); err != nil {
			writeUserError(w, err, "failed to update user")
			return
		}
	}
	user, err := h.users.UpdateTx(ctx, tx, id, req.Role, strings.TrimSpace(req.DisplayName))
	if err != nil {
		writeUserError(w, err, "failed to update user")
		return
	}
	if err := h.audit.RecordTx(ctx, tx, "user.updated", actorFrom(ctx), map[string]any{
		"user_id": user.ID,
		"role":    user.Role,
	}); err != nil {
		http.Error(w, "failed to record audit event", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit transaction", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newUserView(user))
}

func (h *AuthHandler) deleteUser(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	if id == actorFrom(ctx) {
		http.Error(w, "cannot delete yourself", http.StatusConflict)
		return
	}

	tx, err := h.users.Begin(ctx)
	if err != nil {
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.ensureAnotherAdmin(ctx, tx, id); err != nil {
		writeUserError(w, err, "failed to delete user")
		return
	}
	if err := h.users.DeleteTx(ctx, tx, id); err != nil {
		writeUserError(w, err, "failed to delete user")
		return
	}
	if err := h.audit.RecordTx(ctx, tx, "user.deleted", actorFrom(ctx), map[string]any{"user_id": id}); err != nil {
		http.Error(w, "failed to record audit event", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit transaction", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetPassword serves POST /api/v1/admin/users/{id}/password and revokes the
// user's refresh tokens.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if !httpx.IsUUID(id) {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}

	var req passwordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if len(req.Password) < minPasswordLen {
		http.Error(w, "password too short", http.StatusBadRequest)
		return
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		http.Error(w, "failed to hash password", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	tx, err := h.users.Begin(ctx)
	if err != nil {
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.users.SetPasswordTx(ctx, tx, id, hash); err != nil {
		writeUserError(w, err, "failed to set password")
		return
	}
	if err := h.refresh.RevokeAllForUserTx(ctx, tx, id); err != nil {
		http.Error(w, "failed to revoke sessions", http.StatusInternalServerError)
		return
	}
	if err := h.audit.RecordTx(ctx, tx, "user.password_reset", actorFrom(ctx), map[string]any{"user_id": id}); err != nil {
		http.Error(w, "failed to record audit event", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit transaction", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ensureAnotherAdmin fails when id is the only admin left.
func (h *AuthHandler) ensureAnotherAdmin(ctx context.Context, tx pgx.Tx, id string) error {
	target, err := h.users.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if target.Role != auth.RoleAdmin {
		return nil
	}
	admins, err := h.users.CountAdminsTx(ctx, tx)
	if err != nil {
		return err
	}
	if admins <= 1 {
		return errLastAdmin
	}
	return nil
}

func validateNewUser(req createUserRequest) string {
	if req.Email == "" || req.Password == "" {
		return "email and password required"
	}
	if addr, err := mail.ParseAddress(req.Email); err != nil || addr.Address != req.Email {
		return "invalid email"
	}
	if len(req.Password) < minPasswordLen {
		return "password too short"
	}
	if !validRole(req.Role) {
		return "invalid role"
	}
	return ""
}

func validRole(role string) bool {
	return role == auth.RoleAdmin || role == auth.RoleEditor
}

func writeUserError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case storage.IsNotFound(err):
		http.Error(w, "user not found", http.StatusNotFound)
	case errors.Is(err, errLastAdmin):
		http.Error(w, errLastAdmin.Error(), http.StatusConflict)
	default:
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}
