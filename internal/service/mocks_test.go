package service_test

import (
	"context"
	"time"

	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/model"
	"github.com/unclebandit/mailcast-backend/internal/render"
)

// MockCampaignRepo keeps campaigns in memory.
type MockCampaignRepo struct {
	campaigns map[int64]*model.Campaign
	nextID    int64

	scheduled   []model.Recipient
	scheduledAt time.Time
	cancelled   []int64
	lastOwner   *int64
	stats       map[model.JobState]int
}

func NewMockCampaignRepo(cs ...*model.Campaign) *MockCampaignRepo {
	m := &MockCampaignRepo{campaigns: map[int64]*model.Campaign{}, nextID: 100}
	for _, c := range cs {
		m.campaigns[c.ID] = c
	}
	return m
}

func (m *MockCampaignRepo) Create(_ context.Context, c *model.Campaign) error {
	m.nextID++
	c.ID = m.nextID
	m.campaigns[c.ID] = c
	return nil
}

func (m *MockCampaignRepo) GetByID(_ context.Context, id int64) (*model.Campaign, error) {
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, nil
}

func (m *MockCampaignRepo) ListCampaigns(_ context.Context, ownerID *int64, offset, limit int, _ string) ([]*model.Campaign, int, error) {
	m.lastOwner = ownerID
	all := []*model.Campaign{
		{ID: 5, Subject: "C5"},
		{ID: 4, Subject: "C4"},
		{ID: 3, Subject: "C3"},
		{ID: 2, Subject: "C2"},
		{ID: 1, Subject: "C1"},
	}
	if offset >= len(all) {
		return []*model.Campaign{}, len(all), nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], len(all), nil
}

func (m *MockCampaignRepo) GetRecipient(_ context.Context, campaignID int64, email string) (*model.Recipient, error) {
	return &model.Recipient{CampaignID: campaignID, Email: email}, nil
}

func (m *MockCampaignRepo) Schedule(_ context.Context, campaignID int64, recipients []model.Recipient, scheduledAt, _ time.Time) (int, error) {
	c := m.campaigns[campaignID]
	if c.Status != model.CampaignDraft {
		return 0, appErrors.NewInvalidTransition(string(c.Status), string(model.CampaignScheduled))
	}
	m.scheduled = recipients
	m.scheduledAt = scheduledAt
	return len(recipients), nil
}

func (m *MockCampaignRepo) Cancel(_ context.Context, campaignID int64, _ time.Time) (int64, error) {
	m.cancelled = append(m.cancelled, campaignID)
	return 2, nil
}

func (m *MockCampaignRepo) PromoteDue(context.Context, time.Time) (int64, error) { return 0, nil }

func (m *MockCampaignRepo) MarkCompletedIfDone(context.Context, int64, time.Time) (bool, error) {
	return false, nil
}

func (m *MockCampaignRepo) CompleteSendingCampaigns(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (m *MockCampaignRepo) PurgeRetained(context.Context, time.Time) (int64, error) { return 0, nil }

func (m *MockCampaignRepo) GetStats(context.Context, int64) (map[model.JobState]int, error) {
	return m.stats, nil
}

type MockRenderer struct{}

func (MockRenderer) Render(_ context.Context, c *model.Campaign, rec model.Recipient) (*render.Content, error) {
	return &render.Content{Subject: c.Subject, HTML: "<p>Hi " + rec.MergeFields["first_name"] + "</p>"}, nil
}
