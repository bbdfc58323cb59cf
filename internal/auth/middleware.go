package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/token"
)

// Verifier is the part of the token service the gate depends on.
type Verifier interface {
	VerifyKind(ctx context.Context, raw string, kind token.Kind) (*token.Claims, error)
}

// Verify turns a raw bearer token into a Principal. Only access tokens pass.
func Verify(ctx context.Context, v Verifier, raw string) (Principal, error) {
	claims, err := v.VerifyKind(ctx, raw, token.KindAccess)
	if err != nil {
		return Principal{}, err
	}
	sub, err := claims.SubjectID()
	if err != nil {
		return Principal{}, appErrors.ErrInvalidSubject
	}
	return Principal{
		SubjectID: sub,
		TokenID:   claims.TokenID(),
		Roles:     claims.Roles,
		ExpiresAt: claims.ExpiresAtTime(),
	}, nil
}

// Authenticate rejects every request without a valid access token before it
// reaches the wrapped handler.
func Authenticate(v Verifier, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := BearerToken(r)
			if !ok {
				reject(w, appErrors.ErrMissingToken)
				return
			}

			p, err := Verify(r.Context(), v, raw)
			if err != nil {
				if !appErrors.IsAuthError(err) {
					log.Error("token verification failed", slog.String("error", err.Error()))
					http.Error(w, "internal server error", http.StatusInternalServerError)
					return
				}
				reject(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, raw, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func reject(w http.ResponseWriter, err error) {
	reason := "unauthorized"
	var ae *appErrors.AuthError
	if errors.As(err, &ae) {
		reason = ae.Reason
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reason})
}
