package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/sciffer/beermqtt/pkg/models"
)

const issuer = "beer_mqtt"

type contextKey struct{}

// Claims represents admin token claims
type Claims struct {
	jwt.RegisteredClaims
}

// TokenIssuer signs and checks admin bearer tokens for the HTTP API
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
	logger *zap.Logger
}

// NewTokenIssuer creates a token issuer. A non-positive expiry means 24h.
func NewTokenIssuer(secret string, expiry time.Duration, logger *zap.Logger) *TokenIssuer {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &TokenIssuer{
		secret: []byte(secret),
		expiry: expiry,
		logger: logger,
	}
}

// Issue returns a signed token for subject and its expiry
func (t *TokenIssuer) Issue(subject string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(t.expiry)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// IssueResponse issues a token for subject wrapped for API and CLI output
func (t *TokenIssuer) IssueResponse(subject string) (*models.TokenResponse, error) {
	token, expiresAt, err := t.Issue(subject)
	if err != nil {
		return nil, err
	}
	return &models.TokenResponse{
		Token:     token,
		ExpiresIn: int64(time.Until(expiresAt).Round(time.Second).Seconds()),
	}, nil
}

// Validate parses a token and returns its claims
func (t *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token. Browsers cannot
// set headers on WebSocket upgrades, so a "token" query parameter is accepted too.
func (t *TokenIssuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondUnauthorized(w, "invalid authorization header format")
				return
			}
			token = parts[1]
		}
		if token == "" {
			respondUnauthorized(w, "missing authorization header")
			return
		}

		claims, err := t.Validate(token)
		if err != nil {
			t.logger.Debug("admin authentication failed", zap.Error(err))
			respondUnauthorized(w, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), contextKey{}, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubjectFromContext returns the admin subject set by Middleware
func SubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(contextKey{}).(string)
	return subject, ok
}

func respondUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","message":"` + message + `","code":401}`))
}
