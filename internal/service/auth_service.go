package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/unclebandit/mailcast-backend/internal/auth"
	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/model"
	"github.com/unclebandit/mailcast-backend/internal/token"
)

type CredentialStore interface {
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

type TokenIssuer interface {
	IssuePair(ctx context.Context, subjectID int64) (*token.Pair, error)
	Refresh(ctx context.Context, rawRefresh string) (*token.Pair, error)
	VerifyKind(ctx context.Context, raw string, kind token.Kind) (*token.Claims, error)
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
}

// AuthService exchanges credentials for token pairs.
type AuthService struct {
	Users      CredentialStore
	Tokens     TokenIssuer
	BcryptCost int
	Log        *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(users CredentialStore, tokens TokenIssuer, bcryptCost int, log *slog.Logger) *AuthService {
	return &AuthService{
		Users:      users,
		Tokens:     tokens,
		BcryptCost: bcryptCost,
		Log:        log.With(slog.String("component", "auth_service")),
	}
}

// Login checks the password and issues an access/refresh pair. Unknown emails
// and wrong passwords fail the same way.
func (s *AuthService) Login(ctx context.Context, email, password string) (*token.Pair, error) {
	user, err := s.Users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, appErrors.ErrUserNotFound) {
			return nil, err
		}
		// same bcrypt cost as a wrong password
		_ = auth.ComparePassword(password, s.dummy())
		return nil, appErrors.ErrInvalidCredentials
	}

	if err := auth.ComparePassword(password, user.PasswordHash); err != nil {
		s.Log.Warn("login rejected", slog.Int64("user_id", user.ID))
		return nil, err
	}

	pair, err := s.Tokens.IssuePair(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	s.Log.Info("login succeeded", slog.Int64("user_id", user.ID))
	return pair, nil
}

func (s *AuthService) Refresh(ctx context.Context, rawRefresh string) (*token.Pair, error) {
	return s.Tokens.Refresh(ctx, rawRefresh)
}

// Logout revokes the access token the request was made with and, when given,
// a refresh token of the same subject.
func (s *AuthService) Logout(ctx context.Context, p auth.Principal, rawRefresh string) error {
	if err := s.Tokens.Revoke(ctx, p.TokenID, p.ExpiresAt); err != nil {
		return err
	}
	if rawRefresh == "" {
		return nil
	}

	claims, err := s.Tokens.VerifyKind(ctx, rawRefresh, token.KindRefresh)
	if err != nil {
		if errors.Is(err, appErrors.ErrTokenRevoked) || errors.Is(err, appErrors.ErrTokenExpired) {
			return nil
		}
		return err
	}
	subjectID, err := claims.SubjectID()
	if err != nil || subjectID != p.SubjectID {
		return appErrors.ErrForbidden
	}
	return s.Tokens.Revoke(ctx, claims.ID, claims.ExpiresAtTime())
}

func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := auth.HashPassword("not-a-real-password", s.BcryptCost)
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}
