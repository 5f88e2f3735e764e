package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/northpeak/studio/libs/auth"
	"github.com/northpeak/studio/services/auth-service/internal/storage"
)

// TokenIssuer signs HS256 access tokens shared with the gateway.
type TokenIssuer struct {
	secret    string
	accessTTL time.Duration
	now       func() time.Time
}

func NewTokenIssuer(secret string, accessTTL time.Duration) *TokenIssuer {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	return &TokenIssuer{secret: secret, accessTTL: accessTTL, now: time.Now}
}

func (t *TokenIssuer) Issue(user storage.User) (string, int64, error) {
	claims := auth.NewClaims(user.ID, user.Email, user.Role, t.now(), t.accessTTL)
	token, err := auth.SignHS256(claims, t.secret)
	if err != nil {
		return "", 0, err
	}
	return token, int64(t.accessTTL.Seconds()), nil
}

func (t *TokenIssuer) Verify(token string) (*auth.Claims, error) {
	return auth.ParseAndVerifyHS256(token, t.secret)
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
