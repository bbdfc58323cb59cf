// internal/service/campaign_service.go
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/unclebandit/mailcast-backend/internal/auth"
	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/model"
	"github.com/unclebandit/mailcast-backend/internal/render"
	"github.com/unclebandit/mailcast-backend/internal/repository"
)

// Previewer renders a campaign for one recipient.
type Previewer interface {
	Render(ctx context.Context, c *model.Campaign, rec model.Recipient) (*render.Content, error)
}

// CampaignService holds the campaign business rules. Every operation takes the
// caller's principal explicitly and checks role and ownership itself.
type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	Renderer     Previewer
	Now          func() time.Time
	Log          *slog.Logger
}

func NewCampaignService(repo repository.CampaignRepositoryInterface, renderer Previewer, log *slog.Logger) *CampaignService {
	return &CampaignService{
		CampaignRepo: repo,
		Renderer:     renderer,
		Now:          time.Now,
		Log:          log.With(slog.String("component", "campaign_service")),
	}
}

type CreateCampaignInput struct {
	Subject         string
	BodyTemplateRef string
	AttachmentRefs  []string
}

// ScheduleResult is returned by ScheduleCampaign.
type ScheduleResult struct {
	CampaignID  int64                `json:"campaign_id"`
	JobsCreated int                  `json:"jobs_created"`
	Status      model.CampaignStatus `json:"status"`
	ScheduledAt time.Time            `json:"scheduled_at"`
}

type CancelResult struct {
	CampaignID    int64                `json:"campaign_id"`
	JobsCancelled int64                `json:"jobs_cancelled"`
	Status        model.CampaignStatus `json:"status"`
}

// CampaignDetails is a campaign plus per-state job counts.
type CampaignDetails struct {
	*model.Campaign
	Stats map[string]int `json:"stats"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

func (s *CampaignService) CreateCampaign(ctx context.Context, p auth.Principal, in CreateCampaignInput) (*model.Campaign, error) {
	if !p.CanWrite() {
		return nil, appErrors.ErrForbidden
	}

	c := &model.Campaign{
		OwnerID:         p.SubjectID,
		Subject:         strings.TrimSpace(in.Subject),
		BodyTemplateRef: strings.TrimSpace(in.BodyTemplateRef),
		AttachmentRefs:  in.AttachmentRefs,
		Status:          model.CampaignDraft,
		CreatedAt:       s.Now().UTC(),
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}

	s.Log.Info("campaign created", slog.Int64("campaign_id", c.ID), slog.Int64("owner_id", c.OwnerID))
	return c, nil
}

// ListCampaigns pages the caller's campaigns. Admins see every owner's.
func (s *CampaignService) ListCampaigns(ctx context.Context, p auth.Principal, page, pageSize int, status string) ([]model.Campaign, Pagination, error) {
	if !p.CanRead() {
		return nil, Pagination{}, appErrors.ErrForbidden
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	var owner *int64
	if !p.IsAdmin() {
		id := p.SubjectID
		owner = &id
	}

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, owner, offset, pageSize, status)
	if err != nil {
		return nil, Pagination{}, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	return campaigns, Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

// ScheduleCampaign creates one job per distinct recipient and moves the
// campaign out of draft. A nil scheduledAt starts sending immediately.
func (s *CampaignService) ScheduleCampaign(ctx context.Context, p auth.Principal, id int64, recipients []model.Recipient, scheduledAt *time.Time) (*ScheduleResult, error) {
	if _, err := s.owned(ctx, p, id, true); err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, &appErrors.ValidationError{Fields: map[string]string{"recipients": "cannot be blank"}}
	}

	now := s.Now().UTC()
	at := now
	if scheduledAt != nil && scheduledAt.After(now) {
		at = scheduledAt.UTC()
	}

	created, err := s.CampaignRepo.Schedule(ctx, id, recipients, at, now)
	if err != nil {
		return nil, err
	}

	status := model.CampaignSending
	if at.After(now) {
		status = model.CampaignScheduled
	}
	s.Log.Info("campaign scheduled",
		slog.Int64("campaign_id", id), slog.Int("jobs", created), slog.Time("scheduled_at", at))

	return &ScheduleResult{CampaignID: id, JobsCreated: created, Status: status, ScheduledAt: at}, nil
}

// CancelCampaign stops further sends. Jobs already handed to the provider may
// still finish as sent.
func (s *CampaignService) CancelCampaign(ctx context.Context, p auth.Principal, id int64) (*CancelResult, error) {
	if _, err := s.owned(ctx, p, id, true); err != nil {
		return nil, err
	}

	n, err := s.CampaignRepo.Cancel(ctx, id, s.Now())
	if err != nil {
		return nil, err
	}
	s.Log.Info("campaign cancelled", slog.Int64("campaign_id", id), slog.Int64("jobs_cancelled", n))
	return &CancelResult{CampaignID: id, JobsCancelled: n, Status: model.CampaignCancelled}, nil
}

func (s *CampaignService) GetCampaignStatus(ctx context.Context, p auth.Principal, id int64) (*CampaignDetails, error) {
	campaign, err := s.owned(ctx, p, id, false)
	if err != nil {
		return nil, err
	}

	counts, err := s.CampaignRepo.GetStats(ctx, id)
	if err != nil {
		return nil, err
	}

	stats := map[string]int{"total": 0}
	for _, st := range []model.JobState{
		model.JobPending, model.JobInFlight, model.JobSent, model.JobFailedRetryable,
		model.JobFailedPermanent, model.JobBounced, model.JobComplained, model.JobCancelled,
	} {
		stats[string(st)] = counts[st]
		stats["total"] += counts[st]
	}

	return &CampaignDetails{Campaign: campaign, Stats: stats}, nil
}

// RenderPreview renders the campaign for a sample recipient without sending.
func (s *CampaignService) RenderPreview(ctx context.Context, p auth.Principal, id int64, rec model.Recipient) (*render.Content, error) {
	campaign, err := s.owned(ctx, p, id, false)
	if err != nil {
		return nil, err
	}
	rec.CampaignID = id
	return s.Renderer.Render(ctx, campaign, rec)
}

// owned loads a campaign the principal may act on. write selects the
// marketer/admin requirement over plain read access.
func (s *CampaignService) owned(ctx context.Context, p auth.Principal, id int64, write bool) (*model.Campaign, error) {
	if write && !p.CanWrite() || !write && !p.CanRead() {
		return nil, appErrors.ErrForbidden
	}

	campaign, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Owns(campaign.OwnerID) {
		return nil, appErrors.ErrForbidden
	}
	return campaign, nil
}
