package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/logger"
	"github.com/unclebandit/mailcast-backend/internal/model"
	"github.com/unclebandit/mailcast-backend/internal/token"
)

type stubVerifier struct {
	claims *token.Claims
	err    error
}

func (s *stubVerifier) VerifyKind(_ context.Context, raw string, kind token.Kind) (*token.Claims, error) {
	if s.err != nil {
		return nil, s.err
	}
	if kind != token.KindAccess {
		return nil, appErrors.ErrWrongTokenKind
	}
	return s.claims, nil
}

func TestAuthenticate(t *testing.T) {
	exp := time.Now().Add(time.Minute).Truncate(time.Second)
	valid := &token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "7", ID: "jti-7", ExpiresAt: jwt.NewNumericDate(exp)},
		Kind:             token.KindAccess,
		Roles:            []string{model.RoleViewer},
	}

	var reached bool
	var seen Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		seen, _ = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name       string
		header     string
		verifier   *stubVerifier
		wantStatus int
		wantReason string
	}{
		{"missing header", "", &stubVerifier{claims: valid}, http.StatusUnauthorized, "missing bearer token"},
		{"wrong scheme", "Basic abc", &stubVerifier{claims: valid}, http.StatusUnauthorized, "missing bearer token"},
		{"expired", "Bearer x", &stubVerifier{err: appErrors.ErrTokenExpired}, http.StatusUnauthorized, "token expired"},
		{"revoked", "Bearer x", &stubVerifier{err: appErrors.ErrTokenRevoked}, http.StatusUnauthorized, "token revoked"},
		{"store down", "Bearer x", &stubVerifier{err: errors.New("db down")}, http.StatusInternalServerError, ""},
		{"valid", "bearer x", &stubVerifier{claims: valid}, http.StatusNoContent, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reached = false
			req := httptest.NewRequest(http.MethodGet, "/campaigns", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()

			Authenticate(tc.verifier, logger.Discard())(next).ServeHTTP(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)
			assert.Equal(t, tc.wantStatus == http.StatusNoContent, reached)
			if tc.wantReason != "" {
				var body map[string]string
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
				assert.Equal(t, tc.wantReason, body["error"])
			}
		})
	}

	assert.Equal(t, int64(7), seen.SubjectID)
	assert.Equal(t, "jti-7", seen.TokenID)
	assert.Equal(t, exp, seen.ExpiresAt)
}

func TestPrincipalPermissions(t *testing.T) {
	admin := Principal{SubjectID: 1, Roles: []string{model.RoleAdmin}}
	marketer := Principal{SubjectID: 2, Roles: []string{model.RoleMarketer}}
	viewer := Principal{SubjectID: 3, Roles: []string{model.RoleViewer}}
	nobody := Principal{SubjectID: 4}

	assert.True(t, admin.CanWrite())
	assert.True(t, marketer.CanWrite())
	assert.False(t, viewer.CanWrite())
	assert.True(t, viewer.CanRead())
	assert.False(t, nobody.CanRead())

	assert.True(t, admin.Owns(2))
	assert.True(t, marketer.Owns(2))
	assert.False(t, marketer.Owns(3))
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret-pass", 4)
	require.NoError(t, err)

	assert.NoError(t, ComparePassword("s3cret-pass", hash))
	assert.ErrorIs(t, ComparePassword("wrong", hash), appErrors.ErrInvalidCredentials)

	_, err = HashPassword("", 10)
	assert.ErrorIs(t, err, ErrEmptyPassword)
}
