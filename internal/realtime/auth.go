package realtime

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/acme/voice-dialer/internal/config"
	apperrors "github.com/acme/voice-dialer/pkg/errors"
)

// Roles known to the room policy.
const (
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
	RoleAgent      = "agent"
	RoleViewer     = "viewer"
)

// Claims is the bearer token shape for dashboard sockets.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
	Role      string `json:"role"`
}

// Identity is who a socket belongs to.
type Identity struct {
	UserID    uuid.UUID
	AccountID uuid.UUID
	Role      string
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewAuthenticator builds a verifier from the realtime settings.
func NewAuthenticator(cfg config.RealtimeConfig) (*Authenticator, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("realtime: jwt secret is required")
	}
	return &Authenticator{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
		now:      time.Now,
	}, nil
}

// Verify parses a token and resolves it to an identity.
func (a *Authenticator) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("realtime: %w: missing token", apperrors.ErrUnauthorized)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
		jwt.WithLeeway(30 * time.Second),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	var claims Claims
	if _, err := jwt.NewParser(opts...).ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return Identity{}, fmt.Errorf("realtime: %w: %v", apperrors.ErrUnauthorized, err)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return Identity{}, fmt.Errorf("realtime: %w: user_id", apperrors.ErrUnauthorized)
	}
	accountID, err := uuid.Parse(claims.AccountID)
	if err != nil {
		return Identity{}, fmt.Errorf("realtime: %w: account_id", apperrors.ErrUnauthorized)
	}
	role := strings.ToLower(strings.TrimSpace(claims.Role))
	if role == "" {
		return Identity{}, fmt.Errorf("realtime: %w: role missing", apperrors.ErrUnauthorized)
	}
	return Identity{UserID: userID, AccountID: accountID, Role: role}, nil
}

// Sign issues a token for id. Used by operational tooling and tests.
func (a *Authenticator) Sign(id Identity, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		UserID:    id.UserID.String(),
		AccountID: id.AccountID.String(),
		Role:      id.Role,
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// TokenFromRequest reads the bearer token from the Authorization header or
// the token query parameter. Browsers cannot set headers on a websocket
// handshake.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
	}
	return r.URL.Query().Get("token")
}
