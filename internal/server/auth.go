package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type ownerKey struct{}

var errMissingToken = errors.New("missing bearer token")

// OwnerFromContext returns the owner id set by the auth middleware.
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// authenticate resolves the request owner. With a JWT secret configured the
// owner is the `sub` of an HS256 bearer token; otherwise it is taken from the
// owner header, falling back to the default owner.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, err := s.resolveOwner(r)
		if err != nil {
			s.logger.Debug("authentication failed", zap.String("path", r.URL.Path), zap.Error(err))
			s.respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey{}, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) resolveOwner(r *http.Request) (string, error) {
	auth := s.config.Auth
	if auth.JWTSecret == "" {
		if owner := strings.TrimSpace(r.Header.Get(auth.OwnerHeader)); owner != "" {
			return owner, nil
		}
		return auth.DefaultOwner, nil
	}

	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", errMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if auth.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(auth.Issuer))
	}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return []byte(auth.JWTSecret), nil
	}, opts...)
	if err != nil {
		return "", err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}
