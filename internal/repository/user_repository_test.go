package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/model"
)

func TestUserRepository(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	repo := &UserRepository{DB: conn}
	ctx := context.Background()

	t.Run("create normalises the email", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO users").
			WithArgs("ann@example.com", "hash", `{"marketer"}`, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

		u := &model.User{Email: " Ann@Example.com", PasswordHash: "hash", Roles: []string{model.RoleMarketer}}
		require.NoError(t, repo.Create(ctx, u))
		assert.Equal(t, int64(11), u.ID)
		assert.Equal(t, "ann@example.com", u.Email)
	})

	t.Run("duplicate email", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO users").
			WillReturnError(&pq.Error{Code: pqUniqueViolation})

		err := repo.Create(ctx, &model.User{Email: "ann@example.com"})
		assert.ErrorIs(t, err, appErrors.ErrDuplicateEmail)
	})

	t.Run("lookup by email", func(t *testing.T) {
		mock.ExpectQuery(`WHERE LOWER\(email\)=LOWER\(\$1\)`).
			WithArgs("ANN@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "roles", "created_at"}).
				AddRow(11, "ann@example.com", "hash", "{admin,marketer}", time.Now()))

		u, err := repo.GetByEmail(ctx, "ANN@example.com")
		require.NoError(t, err)
		assert.Equal(t, []string{"admin", "marketer"}, u.Roles)
	})

	t.Run("unknown user", func(t *testing.T) {
		mock.ExpectQuery("FROM users WHERE id=").
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "roles", "created_at"}))

		_, err := repo.GetByID(ctx, 99)
		assert.ErrorIs(t, err, appErrors.ErrUserNotFound)
	})

	t.Run("update roles of missing user", func(t *testing.T) {
		mock.ExpectExec("UPDATE users SET roles").WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.UpdateRoles(ctx, 99, []string{model.RoleViewer})
		assert.ErrorIs(t, err, appErrors.ErrUserNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevocationRepository(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	repo := &RevocationRepository{DB: conn}
	ctx := context.Background()
	exp := time.Now().Add(time.Hour).UTC()

	mock.ExpectExec("INSERT INTO token_revocations(.+)ON CONFLICT").
		WithArgs("jti-1", exp).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Revoke(ctx, "jti-1", exp))

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("jti-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	revoked, err := repo.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	mock.ExpectExec("DELETE FROM token_revocations WHERE expires_at < ").
		WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := repo.PurgeExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}
