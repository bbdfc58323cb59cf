package repository

import (
	"context"
	"database/sql"
	"time"
)

// RevocationRepository is the Postgres-backed revocation set. Entries carry the
// expiry of the token they block and are only purged after it.
type RevocationRepository struct {
	DB *sql.DB
}

// Revoke is idempotent. Re-revoking keeps the later expiry.
func (r *RevocationRepository) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	query := `
		INSERT INTO token_revocations (token_id, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (token_id) DO UPDATE
		SET expires_at = GREATEST(token_revocations.expires_at, EXCLUDED.expires_at)
	`
	_, err := r.DB.ExecContext(ctx, query, tokenID, expiresAt.UTC())
	return err
}

func (r *RevocationRepository) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM token_revocations WHERE token_id=$1)`, tokenID,
	).Scan(&exists)
	return exists, err
}

// PurgeExpired deletes entries whose token expired strictly before now.
func (r *RevocationRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM token_revocations WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
