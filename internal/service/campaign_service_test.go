package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/mailcast-backend/internal/auth"
	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/logger"
	"github.com/unclebandit/mailcast-backend/internal/model"
	"github.com/unclebandit/mailcast-backend/internal/service"
)

var (
	marketer = auth.Principal{SubjectID: 1, Roles: []string{model.RoleMarketer}}
	other    = auth.Principal{SubjectID: 2, Roles: []string{model.RoleMarketer}}
	viewer   = auth.Principal{SubjectID: 1, Roles: []string{model.RoleViewer}}
	admin    = auth.Principal{SubjectID: 9, Roles: []string{model.RoleAdmin}}
	nobody   = auth.Principal{SubjectID: 1}
)

var fixedNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func newCampaignService(repo *MockCampaignRepo) *service.CampaignService {
	svc := service.NewCampaignService(repo, MockRenderer{}, logger.Discard())
	svc.Now = func() time.Time { return fixedNow }
	return svc
}

func draft() *model.Campaign {
	return &model.Campaign{ID: 1, OwnerID: 1, Subject: "Spring sale", BodyTemplateRef: "spring.md", Status: model.CampaignDraft}
}

func TestCreateCampaign(t *testing.T) {
	repo := NewMockCampaignRepo()
	svc := newCampaignService(repo)

	c, err := svc.CreateCampaign(context.Background(), marketer, service.CreateCampaignInput{
		Subject: "  Hello  ", BodyTemplateRef: "hello.html",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(101), c.ID)
	assert.Equal(t, int64(1), c.OwnerID)
	assert.Equal(t, "Hello", c.Subject)
	assert.Equal(t, model.CampaignDraft, c.Status)

	_, err = svc.CreateCampaign(context.Background(), viewer, service.CreateCampaignInput{Subject: "x", BodyTemplateRef: "y"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestPagination(t *testing.T) {
	repo := NewMockCampaignRepo()
	svc := newCampaignService(repo)

	campaigns, page, err := svc.ListCampaigns(context.Background(), marketer, 2, 2, "")
	require.NoError(t, err)
	require.Len(t, campaigns, 2)
	assert.Equal(t, int64(3), campaigns[0].ID)
	assert.Equal(t, service.Pagination{Page: 2, PageSize: 2, TotalCount: 5, TotalPages: 3}, page)
	require.NotNil(t, repo.lastOwner)
	assert.Equal(t, int64(1), *repo.lastOwner)

	campaigns, page, err = svc.ListCampaigns(context.Background(), admin, 0, 500, "")
	require.NoError(t, err)
	assert.Len(t, campaigns, 5)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 100, page.PageSize)
	assert.Nil(t, repo.lastOwner, "admins list every owner")

	campaigns, _, err = svc.ListCampaigns(context.Background(), marketer, 9, 2, "")
	require.NoError(t, err)
	assert.Empty(t, campaigns)

	_, _, err = svc.ListCampaigns(context.Background(), nobody, 1, 10, "")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestScheduleCampaign(t *testing.T) {
	recipients := []model.Recipient{{Email: "a@example.com"}, {Email: "b@example.com"}}

	t.Run("immediate send", func(t *testing.T) {
		repo := NewMockCampaignRepo(draft())
		res, err := newCampaignService(repo).ScheduleCampaign(context.Background(), marketer, 1, recipients, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, res.JobsCreated)
		assert.Equal(t, model.CampaignSending, res.Status)
		assert.Equal(t, fixedNow, repo.scheduledAt)
	})

	t.Run("future send", func(t *testing.T) {
		repo := NewMockCampaignRepo(draft())
		at := fixedNow.Add(2 * time.Hour)
		res, err := newCampaignService(repo).ScheduleCampaign(context.Background(), marketer, 1, recipients, &at)
		require.NoError(t, err)
		assert.Equal(t, model.CampaignScheduled, res.Status)
		assert.Equal(t, at, repo.scheduledAt)
	})

	t.Run("past time sends now", func(t *testing.T) {
		repo := NewMockCampaignRepo(draft())
		at := fixedNow.Add(-time.Hour)
		res, err := newCampaignService(repo).ScheduleCampaign(context.Background(), marketer, 1, recipients, &at)
		require.NoError(t, err)
		assert.Equal(t, model.CampaignSending, res.Status)
	})

	t.Run("another owner is forbidden", func(t *testing.T) {
		repo := NewMockCampaignRepo(draft())
		_, err := newCampaignService(repo).ScheduleCampaign(context.Background(), other, 1, recipients, nil)
		assert.ErrorIs(t, err, appErrors.ErrForbidden)
		assert.Nil(t, repo.scheduled)
	})

	t.Run("admin may schedule any campaign", func(t *testing.T) {
		repo := NewMockCampaignRepo(draft())
		_, err := newCampaignService(repo).ScheduleCampaign(context.Background(), admin, 1, recipients, nil)
		assert.NoError(t, err)
	})

	t.Run("no recipients", func(t *testing.T) {
		repo := NewMockCampaignRepo(draft())
		_, err := newCampaignService(repo).ScheduleCampaign(context.Background(), marketer, 1, nil, nil)
		var ve *appErrors.ValidationError
		assert.True(t, errors.As(err, &ve))
	})

	t.Run("only drafts can be scheduled", func(t *testing.T) {
		c := draft()
		c.Status = model.CampaignSending
		_, err := newCampaignService(NewMockCampaignRepo(c)).ScheduleCampaign(context.Background(), marketer, 1, recipients, nil)
		var it *appErrors.ErrInvalidTransition
		assert.True(t, errors.As(err, &it))
	})

	t.Run("unknown campaign", func(t *testing.T) {
		_, err := newCampaignService(NewMockCampaignRepo()).ScheduleCampaign(context.Background(), marketer, 42, recipients, nil)
		var nf *appErrors.ErrCampaignNotFound
		assert.True(t, errors.As(err, &nf))
	})
}

func TestCancelCampaign(t *testing.T) {
	repo := NewMockCampaignRepo(draft())
	svc := newCampaignService(repo)

	_, err := svc.CancelCampaign(context.Background(), viewer, 1)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	res, err := svc.CancelCampaign(context.Background(), marketer, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.JobsCancelled)
	assert.Equal(t, []int64{1}, repo.cancelled)
}

func TestGetCampaignStatus(t *testing.T) {
	repo := NewMockCampaignRepo(draft())
	repo.stats = map[model.JobState]int{model.JobSent: 2, model.JobFailedPermanent: 1}
	svc := newCampaignService(repo)

	details, err := svc.GetCampaignStatus(context.Background(), viewer, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, details.Stats["total"])
	assert.Equal(t, 2, details.Stats["sent"])
	assert.Equal(t, 0, details.Stats["pending"])
	assert.Equal(t, "Spring sale", details.Subject)

	_, err = svc.GetCampaignStatus(context.Background(), other, 1)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestRenderPreview(t *testing.T) {
	svc := newCampaignService(NewMockCampaignRepo(draft()))

	content, err := svc.RenderPreview(context.Background(), marketer, 1, model.Recipient{
		Email: "alice@example.com", MergeFields: map[string]string{"first_name": "Alice"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Spring sale", content.Subject)
	assert.Equal(t, "<p>Hi Alice</p>", content.HTML)
}
