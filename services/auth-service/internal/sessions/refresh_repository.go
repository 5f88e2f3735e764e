package sessions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/northpeak/studio/libs/db"
)

// ErrTokenUnusable covers unknown, expired, revoked and already rotated tokens.
var ErrTokenUnusable = errors.New("refresh token unusable")

// RefreshRepository stores refresh tokens by SHA-256 hash only.
type RefreshRepository struct {
	db db.DBTX
}

func NewRefreshRepository(conn db.DBTX) *RefreshRepository {
	return &RefreshRepository{db: conn}
}

func (r *RefreshRepository) Create(ctx context.Context, userID, rawToken string, expiresAt time.Time) (string, error) {
	id := uuid.NewString()
	if _, err := r.db.Exec(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at) VALUES ($1, $2, $3, $4)`,
		id, userID, HashToken(rawToken), expiresAt,
	); err != nil {
		return "", err
	}
	return id, nil
}

// Rotate revokes a live token and returns its owner. The single conditional
// UPDATE means two concurrent rotations of one token cannot both succeed.
func (r *RefreshRepository) Rotate(ctx context.Context, rawToken string) (string, error) {
	var userID string
	err := r.db.QueryRow(ctx, `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > now()
		RETURNING user_id::text`, HashToken(rawToken)).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrTokenUnusable
	}
	return userID, err
}

// Revoke ends a session. It returns the owner, or ErrTokenUnusable when the
// token was unknown or already revoked.
func (r *RefreshRepository) Revoke(ctx context.Context, rawToken string) (string, error) {
	var userID string
	err := r.db.QueryRow(ctx, `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE token_hash = $1 AND revoked_at IS NULL
		RETURNING user_id::text`, HashToken(rawToken)).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrTokenUnusable
	}
	return userID, err
}

// RevokeAllForUserTx ends every session of userID, used on password resets
// and account deletion.
func (r *RefreshRepository) RevokeAllForUserTx(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL`,
		userID)
	return err
}

func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
