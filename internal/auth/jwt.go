// Package auth verifies the bearer tokens presented by clients and carries
// the resulting principal through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/eldtechnologies/roomcast/internal/models"
)

// Claims is the token payload. user_id is required; username is used for
// display in join/leave events.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Issue signs a token for p that expires after ttl.
func (v *JWTVerifier) Issue(p models.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   p.ID.String(),
		Username: p.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses and validates a raw token.
func (v *JWTVerifier) Verify(raw string) (*models.Principal, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no user_id claim")
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user_id claim: %w", err)
	}
	username := claims.Username
	if username == "" {
		username = id.String()
	}
	return &models.Principal{ID: id, Username: username}, nil
}

// Authenticate returns the principal behind r, or nil when the request is
// anonymous or its token does not verify.
func (v *JWTVerifier) Authenticate(r *http.Request) *models.Principal {
	raw := TokenFromRequest(r)
	if raw == "" {
		return nil
	}
	p, err := v.Verify(raw)
	if err != nil {
		return nil
	}
	return p
}

// TokenFromRequest reads the Authorization bearer header, falling back to
// the token query parameter browsers use for websocket upgrades.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom retrieves the authenticated principal from ctx.
func PrincipalFrom(ctx context.Context) *models.Principal {
	p, ok := ctx.Value(principalKey).(*models.Principal)
	if !ok {
		return nil
	}
	return p
}
