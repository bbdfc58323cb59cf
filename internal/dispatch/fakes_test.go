package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/model"
	"github.com/unclebandit/mailcast-backend/internal/provider"
	"github.com/unclebandit/mailcast-backend/internal/render"
)

// memStore is an in-memory job and campaign table with the same claim and
// fencing rules as the SQL repositories.
type memStore struct {
	mu        sync.Mutex
	jobs      map[int64]*model.EmailJob
	campaigns map[int64]*model.Campaign

	// recipientErr fails every GetRecipient call while set.
	recipientErr error
}

func newMemStore(c *model.Campaign, emails ...string) *memStore {
	s := &memStore{jobs: map[int64]*model.EmailJob{}, campaigns: map[int64]*model.Campaign{c.ID: c}}
	for i, e := range emails {
		id := int64(i + 1)
		s.jobs[id] = &model.EmailJob{ID: id, CampaignID: c.ID, RecipientEmail: e, State: model.JobPending}
	}
	return s
}

func (s *memStore) Claim(_ context.Context, limit int, token string, now time.Time) ([]*model.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*model.EmailJob
	for _, id := range ids {
		j := s.jobs[id]
		if len(out) == limit {
			break
		}
		if s.campaigns[j.CampaignID].Status != model.CampaignSending {
			continue
		}
		if (j.State == model.JobPending || j.State == model.JobFailedRetryable) && !j.NextAttemptAt.After(now) {
			j.State = model.JobInFlight
			j.ClaimToken = token
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) RecordOutcome(_ context.Context, id int64, token string, out model.Outcome, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	if j.ClaimToken != token || !(j.State == model.JobInFlight || (j.State == model.JobCancelled && out.State == model.JobSent)) {
		return appErrors.ErrClaimLost
	}
	j.State = out.State
	j.LastError = out.Error
	if out.ProviderMessageID != "" {
		j.ProviderMessageID = out.ProviderMessageID
	}
	if !out.NextAttemptAt.IsZero() {
		j.NextAttemptAt = out.NextAttemptAt
	}
	if out.CountAttempt {
		j.AttemptCount++
	}
	j.ClaimToken = ""
	return nil
}

func (s *memStore) ReleaseClaim(_ context.Context, id int64, token string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	if j.ClaimToken != token || j.State != model.JobInFlight {
		return appErrors.ErrClaimLost
	}
	j.State = model.JobPending
	j.ClaimToken = ""
	return nil
}

func (s *memStore) GetByID(_ context.Context, id int64) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) GetRecipient(_ context.Context, campaignID int64, email string) (*model.Recipient, error) {
	s.mu.Lock()
	err := s.recipientErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &model.Recipient{CampaignID: campaignID, Email: email, MergeFields: map[string]string{"name": email}}, nil
}

func (s *memStore) MarkCompletedIfDone(_ context.Context, campaignID int64, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.campaigns[campaignID]
	if c.Status != model.CampaignSending {
		return false, nil
	}
	for _, j := range s.jobs {
		if j.CampaignID == campaignID && !j.State.IsTerminal() {
			return false, nil
		}
	}
	c.Status = model.CampaignCompleted
	return true, nil
}

func (s *memStore) job(id int64) model.EmailJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

type stubRenderer struct {
	err error
}

func (r stubRenderer) Render(_ context.Context, c *model.Campaign, rec model.Recipient) (*render.Content, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &render.Content{Subject: c.Subject, HTML: "<p>" + rec.Email + "</p>"}, nil
}

// scriptedSender answers per recipient and counts calls.
type scriptedSender struct {
	mu      sync.Mutex
	answers map[string]error
	calls   map[string]int
}

func (s *scriptedSender) Send(_ context.Context, msg provider.Message) (provider.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[msg.To]++
	if err := s.answers[msg.To]; err != nil {
		return provider.Result{}, err
	}
	return provider.Result{ProviderMessageID: "msg-" + msg.To}, nil
}

type unlimited struct{}

func (unlimited) Acquire(ctx context.Context) error { return ctx.Err() }

// countedLimiter grants n tokens, then times out.
type countedLimiter struct {
	mu sync.Mutex
	n  int
}

func (l *countedLimiter) Acquire(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.n == 0 {
		return appErrors.ErrRateLimitTimeout
	}
	l.n--
	return nil
}
