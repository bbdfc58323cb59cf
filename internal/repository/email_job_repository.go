package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/model"
)

// EmailJobRepositoryInterface is the job queue the dispatch pool and the
// delivery tracker work against.
type EmailJobRepositoryInterface interface {
	Claim(ctx context.Context, limit int, claimToken string, now time.Time) ([]*model.EmailJob, error)
	RecordOutcome(ctx context.Context, jobID int64, claimToken string, out model.Outcome, now time.Time) error
	ReleaseClaim(ctx context.Context, jobID int64, claimToken string, now time.Time) error
	ReclaimStale(ctx context.Context, claimedBefore, now time.Time, maxAttempts int) (int64, error)
	GetByID(ctx context.Context, id int64) (*model.EmailJob, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.EmailJob, error)
	TransitionFromCallback(ctx context.Context, jobID int64, to model.JobState, now time.Time) (bool, error)
	MarkDelivered(ctx context.Context, jobID int64, at time.Time) error
}

type EmailJobRepository struct {
	DB *sql.DB
}

const jobColumns = `id, campaign_id, recipient_email, state, attempt_count, next_attempt_at, last_error,
	provider_message_id, claim_token, claimed_at, delivered_at, created_at, updated_at`

// Claim atomically moves up to limit due jobs of sending campaigns to
// in_flight and stamps them with claimToken. Rows locked by a concurrent
// claimer are skipped, so no job is ever handed to two callers.
func (r *EmailJobRepository) Claim(ctx context.Context, limit int, claimToken string, now time.Time) ([]*model.EmailJob, error) {
	query := `
		UPDATE email_jobs j
		SET state='in_flight', claim_token=$1, claimed_at=$2, updated_at=$2
		WHERE j.id IN (
			SELECT ej.id
			FROM email_jobs ej
			JOIN campaigns c ON c.id = ej.campaign_id
			WHERE c.status = 'sending'
			  AND ej.state IN ('pending', 'failed_retryable')
			  AND ej.next_attempt_at <= $2
			ORDER BY ej.next_attempt_at, ej.id
			LIMIT $3
			FOR UPDATE OF ej SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := r.DB.QueryContext(ctx, query, claimToken, now.UTC(), limit)
	if err != nil {
		return nil, appErrors.NewStorageError("claim jobs", err)
	}
	defer rows.Close()

	jobs := []*model.EmailJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, appErrors.NewStorageError("claim jobs", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.NewStorageError("claim jobs", err)
	}
	return jobs, nil
}

// RecordOutcome writes the result of a send attempt. It only applies while the
// caller still holds the claim; a job cancelled mid-flight still accepts sent.
func (r *EmailJobRepository) RecordOutcome(ctx context.Context, jobID int64, claimToken string, out model.Outcome, now time.Time) error {
	increment := 0
	if out.CountAttempt {
		increment = 1
	}
	var next sql.NullTime
	if !out.NextAttemptAt.IsZero() {
		next = sql.NullTime{Time: out.NextAttemptAt.UTC(), Valid: true}
	}

	query := `
		UPDATE email_jobs
		SET state=$1::text,
		    provider_message_id=COALESCE(NULLIF($2, ''), provider_message_id),
		    last_error=$3,
		    next_attempt_at=COALESCE($4, next_attempt_at),
		    attempt_count=attempt_count + $5,
		    claim_token=NULL,
		    updated_at=$6
		WHERE id=$7 AND claim_token=$8
		  AND (state='in_flight' OR (state='cancelled' AND $1::text='sent'))
	`
	res, err := r.DB.ExecContext(ctx, query,
		out.State, out.ProviderMessageID, out.Error, next, increment, now.UTC(), jobID, claimToken)
	if err != nil {
		return appErrors.NewStorageError("record outcome", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return appErrors.NewStorageError("record outcome", err)
	}
	if n == 0 {
		return appErrors.ErrClaimLost
	}
	return nil
}

// ReleaseClaim hands an untouched job back to pending without counting an attempt.
func (r *EmailJobRepository) ReleaseClaim(ctx context.Context, jobID int64, claimToken string, now time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE email_jobs SET state='pending', claim_token=NULL, claimed_at=NULL, updated_at=$3
		WHERE id=$1 AND claim_token=$2 AND state='in_flight'
	`, jobID, claimToken, now.UTC())
	if err != nil {
		return appErrors.NewStorageError("release claim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return appErrors.NewStorageError("release claim", err)
	}
	if n == 0 {
		return appErrors.ErrClaimLost
	}
	return nil
}

// ReclaimStale takes back jobs whose claim is older than claimedBefore. An
// expired claim counts as an attempt, so a job that keeps killing its worker
// ends up failed_permanent once it reaches maxAttempts.
func (r *EmailJobRepository) ReclaimStale(ctx context.Context, claimedBefore, now time.Time, maxAttempts int) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE email_jobs
		SET attempt_count=attempt_count + 1,
		    state=CASE WHEN attempt_count + 1 >= $3 THEN 'failed_permanent' ELSE 'pending' END,
		    last_error='claim expired',
		    claim_token=NULL, claimed_at=NULL, updated_at=$2
		WHERE state='in_flight' AND claimed_at < $1
	`, claimedBefore.UTC(), now.UTC(), maxAttempts)
	if err != nil {
		return 0, appErrors.NewStorageError("reclaim stale", err)
	}
	return res.RowsAffected()
}

func (r *EmailJobRepository) GetByID(ctx context.Context, id int64) (*model.EmailJob, error) {
	return r.getOne(ctx, `SELECT `+jobColumns+` FROM email_jobs WHERE id=$1`, id)
}

// GetByProviderMessageID returns nil, nil for unknown message ids.
func (r *EmailJobRepository) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.EmailJob, error) {
	return r.getOne(ctx, `SELECT `+jobColumns+` FROM email_jobs WHERE provider_message_id=$1`, providerMessageID)
}

// TransitionFromCallback moves a job to a callback-driven terminal state unless
// it is already final. It reports whether the row changed.
func (r *EmailJobRepository) TransitionFromCallback(ctx context.Context, jobID int64, to model.JobState, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE email_jobs SET state=$1, claim_token=NULL, updated_at=$2
		WHERE id=$3 AND NOT (state = ANY($4))
	`, to, now.UTC(), jobID, pq.Array(finalStates()))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkDelivered stamps the first delivery confirmation only.
func (r *EmailJobRepository) MarkDelivered(ctx context.Context, jobID int64, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE email_jobs SET delivered_at=COALESCE(delivered_at, $1) WHERE id=$2`, at.UTC(), jobID)
	return err
}

func (r *EmailJobRepository) getOne(ctx context.Context, query string, arg any) (*model.EmailJob, error) {
	j, err := scanJob(r.DB.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}

func finalStates() []string {
	var out []string
	for _, s := range model.TerminalJobStates {
		if s.IsFinal() {
			out = append(out, string(s))
		}
	}
	return out
}

func scanJob(row rowScanner) (*model.EmailJob, error) {
	var (
		j          model.EmailJob
		providerID sql.NullString
		claim      sql.NullString
	)
	err := row.Scan(&j.ID, &j.CampaignID, &j.RecipientEmail, &j.State, &j.AttemptCount, &j.NextAttemptAt,
		&j.LastError, &providerID, &claim, &j.ClaimedAt, &j.DeliveredAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.ProviderMessageID = providerID.String
	j.ClaimToken = claim.String
	return &j, nil
}

var _ EmailJobRepositoryInterface = (*EmailJobRepository)(nil)
