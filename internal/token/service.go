// internal/token/service.go
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/unclebandit/mailcast-backend/internal/config"
	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/model"
)

// SubjectResolver is the slice of the credential store the token service needs.
type SubjectResolver interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// RevocationStore is the set of token ids that were invalidated before expiry.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type Service struct {
	keys       *KeyRing
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	users      SubjectResolver
	revoked    RevocationStore
	now        func() time.Time
	log        *slog.Logger
}

type Option func(*Service)

// WithClock replaces time.Now for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(cfg config.AuthConfig, users SubjectResolver, revoked RevocationStore, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		keys:       NewKeyRing(cfg.SigningKey, cfg.PreviousSigningKey),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		users:      users,
		revoked:    revoked,
		now:        time.Now,
		log:        log.With(slog.String("component", "token")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue signs a token for an existing subject. The subject's current roles are
// embedded in the claims.
func (s *Service) Issue(ctx context.Context, subjectID int64, kind Kind, ttl time.Duration) (*Token, error) {
	user, err := s.users.GetByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, appErrors.ErrUserNotFound) {
			return nil, appErrors.ErrInvalidSubject
		}
		return nil, fmt.Errorf("resolve subject: %w", err)
	}

	now := s.now().Truncate(time.Second)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Kind:  kind,
		Roles: user.Roles,
	}

	key := s.keys.current()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = key.id

	raw, err := t.SignedString(key.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &Token{
		Raw:       raw,
		ID:        claims.ID,
		SubjectID: user.ID,
		Kind:      kind,
		IssuedAt:  now,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// IssuePair signs a fresh access and refresh token for the subject.
func (s *Service) IssuePair(ctx context.Context, subjectID int64) (*Pair, error) {
	access, err := s.Issue(ctx, subjectID, KindAccess, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.Issue(ctx, subjectID, KindRefresh, s.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:      access.Raw,
		RefreshToken:     refresh.Raw,
		TokenType:        "Bearer",
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// Verify checks signature, expiry and revocation. The only side effect is the
// revocation lookup.
func (s *Service) Verify(ctx context.Context, raw string) (*Claims, error) {
	claims, err := s.parse(raw)
	if err != nil {
		return nil, err
	}

	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("revocation lookup: %w", err)
	}
	if revoked {
		return nil, appErrors.ErrTokenRevoked
	}
	return claims, nil
}

// VerifyKind is Verify plus a check of the token kind.
func (s *Service) VerifyKind(ctx context.Context, raw string, kind Kind) (*Claims, error) {
	claims, err := s.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, appErrors.ErrWrongTokenKind
	}
	return claims, nil
}

// Refresh rotates a refresh token: the presented one is revoked and a new pair
// is issued with the subject's current roles.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (*Pair, error) {
	claims, err := s.VerifyKind(ctx, rawRefresh, KindRefresh)
	if err != nil {
		return nil, err
	}
	subjectID, err := claims.SubjectID()
	if err != nil {
		return nil, appErrors.ErrInvalidSubject
	}

	if err := s.Revoke(ctx, claims.ID, claims.ExpiresAtTime()); err != nil {
		return nil, err
	}
	return s.IssuePair(ctx, subjectID)
}

// Revoke is idempotent. The entry lives as long as the token it blocks.
func (s *Service) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if err := s.revoked.Revoke(ctx, tokenID, expiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	s.log.Info("token revoked", slog.String("token_id", tokenID), slog.Time("expires_at", expiresAt))
	return nil
}

func (s *Service) parse(raw string) (*Claims, error) {
	if raw == "" {
		return nil, appErrors.ErrTokenMalformed
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		// a token is still valid at exactly its exp instant
		jwt.WithLeeway(time.Nanosecond),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var lastErr error
	for _, key := range s.candidateKeys(raw) {
		claims := &Claims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return key, nil
		}, opts...)
		if err == nil {
			if claims.Kind != KindAccess && claims.Kind != KindRefresh {
				return nil, appErrors.ErrTokenMalformed
			}
			return claims, nil
		}
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.ErrTokenExpired
		}
		lastErr = err
	}

	s.log.Debug("token rejected", slog.String("error", lastErr.Error()))
	return nil, appErrors.ErrTokenMalformed
}

// candidateKeys returns the key named by the kid header, or every key in the
// ring when the header is missing or unknown.
func (s *Service) candidateKeys(raw string) [][]byte {
	unverified, _, err := jwt.NewParser().ParseUnverified(raw, &Claims{})
	if err == nil {
		if kid, ok := unverified.Header["kid"].(string); ok {
			if key, found := s.keys.lookup(kid); found {
				return [][]byte{key}
			}
		}
	}

	keys := make([][]byte, 0, len(s.keys.keys))
	for _, k := range s.keys.keys {
		keys = append(keys, k.secret)
	}
	return keys
}
