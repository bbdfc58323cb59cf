// internal/repository/campaign_repository.go
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/mailcast-backend/internal/db"
	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, ownerID *int64, offset, limit int, status string) ([]*model.Campaign, int, error)
	GetRecipient(ctx context.Context, campaignID int64, email string) (*model.Recipient, error)

	// Lifecycle
	Schedule(ctx context.Context, campaignID int64, recipients []model.Recipient, scheduledAt, now time.Time) (int, error)
	Cancel(ctx context.Context, campaignID int64, now time.Time) (int64, error)
	PromoteDue(ctx context.Context, now time.Time) (int64, error)
	MarkCompletedIfDone(ctx context.Context, campaignID int64, now time.Time) (bool, error)
	CompleteSendingCampaigns(ctx context.Context, now time.Time) (int64, error)
	PurgeRetained(ctx context.Context, before time.Time) (int64, error)

	// Job statistics
	GetStats(ctx context.Context, campaignID int64) (map[model.JobState]int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, owner_id, subject, body_template_ref, attachment_refs, status, scheduled_at, created_at, updated_at, completed_at`

// nonTerminalStates is the SQL list of job states the pipeline still owns.
const nonTerminalStates = `('pending', 'in_flight', 'failed_retryable')`

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	query := `
		INSERT INTO campaigns (owner_id, subject, body_template_ref, attachment_refs, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	return r.DB.QueryRowContext(ctx, query,
		c.OwnerID, c.Subject, c.BodyTemplateRef, pq.Array(c.AttachmentRefs), c.Status, c.CreatedAt,
	).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, appErrors.NewStorageError("get campaign", err)
	}
	return c, nil
}

// ListCampaigns pages campaigns newest first. A nil ownerID lists every owner.
func (r *CampaignRepository) ListCampaigns(ctx context.Context, ownerID *int64, offset, limit int, status string) ([]*model.Campaign, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argPos := 1

	if ownerID != nil {
		where += fmt.Sprintf(" AND owner_id=$%d", argPos)
		args = append(args, *ownerID)
		argPos++
	}
	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

// GetRecipient returns nil, nil when the address is not part of the campaign.
func (r *CampaignRepository) GetRecipient(ctx context.Context, campaignID int64, email string) (*model.Recipient, error) {
	query := `SELECT campaign_id, email, merge_fields FROM recipients WHERE campaign_id=$1 AND email=$2`
	var (
		rec    model.Recipient
		fields []byte
	)
	err := r.DB.QueryRowContext(ctx, query, campaignID, strings.ToLower(email)).Scan(&rec.CampaignID, &rec.Email, &fields)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.NewStorageError("get recipient", err)
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &rec.MergeFields); err != nil {
			return nil, fmt.Errorf("decode merge fields: %w", err)
		}
	}
	return &rec, nil
}

// ====================== Lifecycle ======================

// Schedule moves a draft campaign forward and writes its recipients and one job
// per unique address in a single transaction. Suppressed addresses get a job
// that is already failed_permanent. Returns the number of jobs created.
func (r *CampaignRepository) Schedule(ctx context.Context, campaignID int64, recipients []model.Recipient, scheduledAt, now time.Time) (int, error) {
	emails, fields, err := dedupeRecipients(recipients)
	if err != nil {
		return 0, err
	}

	next := scheduledAt
	status := model.CampaignScheduled
	if !scheduledAt.After(now) {
		next = now
		status = model.CampaignSending
	}

	var created int64
	err = db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		if err := lockForTransition(ctx, tx, campaignID, status, func(s model.CampaignStatus) bool {
			return s == model.CampaignDraft
		}); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO recipients (campaign_id, email, merge_fields)
			SELECT $1, t.email, t.fields::jsonb
			FROM unnest($2::text[], $3::text[]) AS t(email, fields)
		`, campaignID, pq.Array(emails), pq.Array(fields)); err != nil {
			return appErrors.NewStorageError("insert recipients", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO email_jobs (campaign_id, recipient_email, state, last_error, next_attempt_at, created_at, updated_at)
			SELECT $1, t.email,
			       CASE WHEN s.email IS NULL THEN 'pending' ELSE 'failed_permanent' END,
			       CASE WHEN s.email IS NULL THEN '' ELSE 'suppressed' END,
			       $3, $4, $4
			FROM unnest($2::text[]) AS t(email)
			LEFT JOIN suppressions s ON s.email = t.email
		`, campaignID, pq.Array(emails), next.UTC(), now.UTC())
		if err != nil {
			return appErrors.NewStorageError("insert jobs", err)
		}
		if created, err = res.RowsAffected(); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE campaigns SET status=$1, scheduled_at=$2, updated_at=$3 WHERE id=$4`,
			status, scheduledAt.UTC(), now.UTC(), campaignID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(created), nil
}

// Cancel stops a draft, scheduled or sending campaign. Every job the pipeline
// still owns, including in-flight ones, becomes cancelled.
func (r *CampaignRepository) Cancel(ctx context.Context, campaignID int64, now time.Time) (int64, error) {
	var cancelled int64
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		if err := lockForTransition(ctx, tx, campaignID, model.CampaignCancelled, model.CampaignStatus.CanCancel); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE email_jobs SET state='cancelled', last_error='campaign cancelled', updated_at=$2
			WHERE campaign_id=$1 AND state IN `+nonTerminalStates, campaignID, now.UTC())
		if err != nil {
			return err
		}
		if cancelled, err = res.RowsAffected(); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE campaigns SET status='cancelled', updated_at=$1, completed_at=$1 WHERE id=$2`,
			now.UTC(), campaignID)
		return err
	})
	return cancelled, err
}

// PromoteDue starts every scheduled campaign whose time has come.
func (r *CampaignRepository) PromoteDue(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE campaigns SET status='sending', updated_at=$1 WHERE status='scheduled' AND scheduled_at <= $1`,
		now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkCompletedIfDone completes a sending campaign once none of its jobs is
// left for the pipeline. The check and the update are one statement.
func (r *CampaignRepository) MarkCompletedIfDone(ctx context.Context, campaignID int64, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE campaigns c SET status='completed', completed_at=$2, updated_at=$2
		WHERE c.id=$1 AND c.status='sending'
		  AND NOT EXISTS (
		      SELECT 1 FROM email_jobs j
		      WHERE j.campaign_id=c.id AND j.state IN `+nonTerminalStates+`
		  )`, campaignID, now.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CompleteSendingCampaigns applies MarkCompletedIfDone to every sending campaign.
func (r *CampaignRepository) CompleteSendingCampaigns(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE campaigns c SET status='completed', completed_at=$1, updated_at=$1
		WHERE c.status='sending'
		  AND NOT EXISTS (
		      SELECT 1 FROM email_jobs j
		      WHERE j.campaign_id=c.id AND j.state IN `+nonTerminalStates+`
		  )`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeRetained drops jobs and recipients of campaigns that finished before
// the cutoff, plus delivery events older than it. Campaign rows are kept.
func (r *CampaignRepository) PurgeRetained(ctx context.Context, before time.Time) (int64, error) {
	var purged int64
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		finished := `SELECT id FROM campaigns WHERE status IN ('completed', 'cancelled') AND completed_at < $1`

		res, err := tx.ExecContext(ctx, `DELETE FROM email_jobs WHERE campaign_id IN (`+finished+`)`, before.UTC())
		if err != nil {
			return err
		}
		if purged, err = res.RowsAffected(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM recipients WHERE campaign_id IN (`+finished+`)`, before.UTC()); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM delivery_events WHERE received_at < $1`, before.UTC())
		return err
	})
	return purged, err
}

// ====================== Job statistics ======================

func (r *CampaignRepository) GetStats(ctx context.Context, campaignID int64) (map[model.JobState]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM email_jobs WHERE campaign_id=$1 GROUP BY state`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[model.JobState]int{}
	for rows.Next() {
		var (
			state model.JobState
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[state] = count
	}
	return stats, rows.Err()
}

// lockForTransition row-locks the campaign and checks that it may move to target.
func lockForTransition(ctx context.Context, tx *sql.Tx, campaignID int64, target model.CampaignStatus, allowed func(model.CampaignStatus) bool) error {
	var current model.CampaignStatus
	err := tx.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id=$1 FOR UPDATE`, campaignID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.NewCampaignNotFound(campaignID)
		}
		return err
	}
	if !allowed(current) {
		return appErrors.NewInvalidTransition(string(current), string(target))
	}
	return nil
}

// dedupeRecipients lower-cases addresses and keeps the first occurrence of each.
func dedupeRecipients(recipients []model.Recipient) ([]string, []string, error) {
	seen := make(map[string]struct{}, len(recipients))
	emails := make([]string, 0, len(recipients))
	fields := make([]string, 0, len(recipients))

	for _, rec := range recipients {
		email := strings.ToLower(strings.TrimSpace(rec.Email))
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}

		merge := rec.MergeFields
		if merge == nil {
			merge = map[string]string{}
		}
		b, err := json.Marshal(merge)
		if err != nil {
			return nil, nil, fmt.Errorf("encode merge fields for %s: %w", email, err)
		}
		emails = append(emails, email)
		fields = append(fields, string(b))
	}
	return emails, fields, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(&c.ID, &c.OwnerID, &c.Subject, &c.BodyTemplateRef, pq.Array(&c.AttachmentRefs),
		&c.Status, &c.ScheduledAt, &c.CreatedAt, &c.UpdatedAt, &c.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
