package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/northpeak/studio/libs/auth"
	"github.com/northpeak/studio/libs/httpx"
	"github.com/northpeak/studio/services/auth-service/internal/audit"
	"github.com/northpeak/studio/services/auth-service/internal/sessions"
	"github.com/northpeak/studio/services/auth-service/internal/storage"
)

const minPasswordLen = 10

type AuthHandler struct {
	tokens     *TokenIssuer
	users      *storage.UserRepository
	audit      *audit.Repository
	refresh    *sessions.RefreshRepository
	refreshTTL time.Duration
	logger     *slog.Logger
}

func NewAuthHandler(
	tokens *TokenIssuer,
	users *storage.UserRepository,
	auditRepo *audit.Repository,
	refreshRepo *sessions.RefreshRepository,
	refreshTTL time.Duration,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		tokens:     tokens,
		users:      users,
		audit:      auditRepo,
		refresh:    refreshRepo,
		refreshTTL: refreshTTL,
		logger:     logger,
	}
}

func (h *AuthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/auth/login", h.Login)
	mux.HandleFunc("/api/v1/auth/refresh", h.Refresh)
	mux.HandleFunc("/api/v1/auth/logout", h.Logout)
	mux.HandleFunc("/api/v1/auth/me", h.Me)
	mux.Handle("/api/v1/admin/audit", h.requireRole(http.HandlerFunc(h.Audit), auth.RoleAdmin))
	mux.Handle("/api/v1/admin/users", h.requireRole(http.HandlerFunc(h.Users), auth.RoleAdmin))
	mux.Handle("/api/v1/admin/users/{id}", h.requireRole(http.HandlerFunc(h.User), auth.RoleAdmin))
	mux.Handle("/api/v1/admin/users/{id}/password", h.requireRole(http.HandlerFunc(h.ResetPassword), auth.RoleAdmin))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type meResponse struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	user, err := h.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if storage.IsNotFound(err) {
			h.recordAudit(ctx, "auth.login_failed", "", map[string]any{"email": req.Email})
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		http.Error(w, "failed to lookup user", http.StatusInternalServerError)
		return
	}

	if err := verifyPassword(user.PasswordHash, req.Password); err != nil {
		h.recordAudit(ctx, "auth.login_failed", user.ID, map[string]any{"email": req.Email})
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	resp, err := h.issueTokens(ctx, user)
	if err != nil {
		h.logger.ErrorContext(ctx, "issue tokens failed", "err", err)
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	h.recordAudit(ctx, "auth.login", user.ID, nil)
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		http.Error(w, "refresh_token required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	userID, err := h.refresh.Rotate(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, sessions.ErrTokenUnusable) {
			http.Error(w, "invalid refresh token", http.StatusUnauthorized)
			return
		}
		http.Error(w, "failed to rotate refresh token", http.StatusInternalServerError)
		return
	}

	user, err := h.users.GetByID(ctx, userID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "invalid refresh token", http.StatusUnauthorized)
			return
		}
		http.Error(w, "failed to lookup user", http.StatusInternalServerError)
		return
	}

	resp, err := h.issueTokens(ctx, user)
	if err != nil {
		h.logger.ErrorContext(ctx, "issue tokens failed", "err", err)
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		http.Error(w, "refresh_token required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	userID, err := h.refresh.Revoke(ctx, req.RefreshToken)
	switch {
	case errors.Is(err, sessions.ErrTokenUnusable):
	case err != nil:
		http.Error(w, "failed to revoke refresh token", http.StatusInternalServerError)
		return
	default:
		h.recordAudit(ctx, "auth.logout", userID, nil)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := h.verifyRequest(r)
	if !ok {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	user, err := h.users.GetByID(r.Context(), claims.UserID())
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		http.Error(w, "failed to lookup user", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, meResponse{
		UserID:      user.ID,
		Email:       user.Email,
		Role:        user.Role,
		DisplayName: user.DisplayName,
	})
}

func (h *AuthHandler) Audit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	events, err := h.audit.ListRecent(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to load audit events", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, events)
}

type claimsKey struct{}

// requireRole verifies the bearer token itself so the service is safe to reach
// without the gateway in front of it.
func (h *AuthHandler) requireRole(next http.Handler, roles ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := h.verifyRequest(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !auth.HasRole(claims.Role, roles...) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func (h *AuthHandler) verifyRequest(r *http.Request) (*auth.Claims, bool) {
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, false
	}
	claims, err := h.tokens.Verify(token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

func actorFrom(ctx context.Context) string {
	if claims, ok := ctx.Value(claimsKey{}).(*auth.Claims); ok {
		return claims.UserID()
	}
	return ""
}

func (h *AuthHandler) issueTokens(ctx context.Context, user storage.User) (tokenResponse, error) {
	access, expiresIn, err := h.tokens.Issue(user)
	if err != nil {
		return tokenResponse{}, err
	}
	raw, err := newRefreshToken()
	if err != nil {
		return tokenResponse{}, err
	}
	if _, err := h.refresh.Create(ctx, user.ID, raw, time.Now().Add(h.refreshTTL)); err != nil {
		return tokenResponse{}, err
	}
	return tokenResponse{
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	}, nil
}

// recordAudit never fails the request.
func (h *AuthHandler) recordAudit(ctx context.Context, action, actorID string, metadata map[string]any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Record(ctx, action, actorID, metadata); err != nil {
		h.logger.WarnContext(ctx, "audit record failed", "action", action, "err", err)
	}
}

func hashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func verifyPassword(hash string, raw string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw))
}

// RouteLabel collapses user ids so metrics stay low-cardinality.
var RouteLabel = httpx.RouteLabels(
	"/api/v1/auth/login",
	"/api/v1/auth/refresh",
	"/api/v1/auth/logout",
	"/api/v1/auth/me",
	"/api/v1/admin/audit",
	"/api/v1/admin/users",
	"/api/v1/admin/users/{id}",
	"/api/v1/admin/users/{id}/password",
)
