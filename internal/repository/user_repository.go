package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/model"
)

const pqUniqueViolation = "23505"

// UserRepositoryInterface is the credential store used by the auth and token services.
type UserRepositoryInterface interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateRoles(ctx context.Context, id int64, roles []string) error
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
}

type UserRepository struct {
	DB *sql.DB
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO users (email, password_hash, roles, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err := r.DB.QueryRowContext(ctx, query, u.Email, u.PasswordHash, pq.Array(u.Roles), u.CreatedAt).Scan(&u.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return appErrors.ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	query := `SELECT id, email, password_hash, roles, created_at FROM users WHERE id=$1`
	return r.scanOne(r.DB.QueryRowContext(ctx, query, id))
}

// GetByEmail matches case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT id, email, password_hash, roles, created_at FROM users WHERE LOWER(email)=LOWER($1)`
	return r.scanOne(r.DB.QueryRowContext(ctx, query, strings.TrimSpace(email)))
}

func (r *UserRepository) UpdateRoles(ctx context.Context, id int64, roles []string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET roles=$1 WHERE id=$2`, pq.Array(roles), id)
	return expectOneRow(res, err, appErrors.ErrUserNotFound)
}

func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET password_hash=$1 WHERE id=$2`, hash, id)
	return expectOneRow(res, err, appErrors.ErrUserNotFound)
}

func (r *UserRepository) scanOne(row *sql.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, pq.Array(&u.Roles), &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func expectOneRow(res sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

var _ UserRepositoryInterface = (*UserRepository)(nil)
