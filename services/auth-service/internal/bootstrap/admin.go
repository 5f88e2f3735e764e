// Package bootstrap seeds the first admin account on an empty users table.
package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/northpeak/studio/libs/auth"
	"github.com/northpeak/studio/services/auth-service/internal/audit"
	"github.com/northpeak/studio/services/auth-service/internal/storage"
)

type AdminConfig struct {
	Email       string
	Password    string
	DisplayName string
}

// EnsureAdmin creates the configured admin when no users exist yet. It reports
// whether an account was created.
func EnsureAdmin(ctx context.Context, users *storage.UserRepository, auditRepo *audit.Repository, cfg AdminConfig, logger *slog.Logger) (bool, error) {
	cfg.Email = strings.TrimSpace(cfg.Email)
	if cfg.Email == "" {
		return false, nil
	}
	if cfg.Password == "" {
		return false, errors.New("bootstrap admin password is empty")
	}

	count, err := users.Count(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		return false, err
	}

	tx, err := users.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	user, err := users.CreateTx(ctx, tx, storage.User{
		Email:        cfg.Email,
		PasswordHash: string(hash),
		Role:         auth.RoleAdmin,
		DisplayName:  cfg.DisplayName,
	})
	if err != nil {
		if storage.IsDuplicateEmail(err) {
			return false, nil
		}
		return false, err
	}
	if auditRepo != nil {
		if err := auditRepo.RecordTx(ctx, tx, "user.bootstrapped", "", map[string]any{"user_id": user.ID, "email": user.Email}); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	logger.Info("bootstrap admin created", "user_id", user.ID, "email", user.Email)
	return true, nil
}
