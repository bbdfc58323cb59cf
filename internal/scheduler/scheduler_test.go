package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/mailcast-backend/internal/config"
	"github.com/unclebandit/mailcast-backend/internal/logger"
)

type fakeMaintenance struct {
	promotedAt      time.Time
	completedAt     time.Time
	purgeBefore     time.Time
	reclaimBefore   time.Time
	reclaimMax      int
	revocationsAt   time.Time
	promoteErr      error
	completeInvoked bool
}

func (f *fakeMaintenance) PromoteDue(_ context.Context, now time.Time) (int64, error) {
	f.promotedAt = now
	return 1, f.promoteErr
}

func (f *fakeMaintenance) CompleteSendingCampaigns(_ context.Context, now time.Time) (int64, error) {
	f.completeInvoked = true
	f.completedAt = now
	return 0, nil
}

func (f *fakeMaintenance) PurgeRetained(_ context.Context, before time.Time) (int64, error) {
	f.purgeBefore = before
	return 3, nil
}

func (f *fakeMaintenance) ReclaimStale(_ context.Context, claimedBefore, _ time.Time, maxAttempts int) (int64, error) {
	f.reclaimBefore = claimedBefore
	f.reclaimMax = maxAttempts
	return 2, nil
}

func (f *fakeMaintenance) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	f.revocationsAt = now
	return 5, nil
}

var testCfg = config.DispatchConfig{ClaimTimeout: 10 * time.Minute, MaxAttempts: 5, RetentionDays: 90}

func newTestScheduler(t *testing.T, f *fakeMaintenance, revocations RevocationPurger) (*Scheduler, time.Time) {
	t.Helper()
	s, err := New(testCfg, f, f, revocations, logger.Discard())
	require.NoError(t, err)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, now
}

func TestNewRegistersEveryJob(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeMaintenance{}, nil)
	assert.Len(t, s.cron.Entries(), 4)
}

func TestMaintenanceJobs(t *testing.T) {
	f := &fakeMaintenance{}
	s, now := newTestScheduler(t, f, f)
	ctx := context.Background()

	s.PromoteAndComplete(ctx)
	s.ReclaimStale(ctx)
	s.PurgeRevocations(ctx)
	s.PurgeRetained(ctx)

	assert.Equal(t, now, f.promotedAt)
	assert.Equal(t, now, f.completedAt)
	assert.Equal(t, now.Add(-10*time.Minute), f.reclaimBefore)
	assert.Equal(t, 5, f.reclaimMax)
	assert.Equal(t, now, f.revocationsAt)
	assert.Equal(t, now.AddDate(0, 0, -90), f.purgeBefore)
}

func TestPromoteFailureStillRunsCompletionSweep(t *testing.T) {
	f := &fakeMaintenance{promoteErr: errors.New("db down")}
	s, _ := newTestScheduler(t, f, nil)

	s.PromoteAndComplete(context.Background())
	assert.True(t, f.completeInvoked)

	s.PurgeRevocations(context.Background())
	assert.True(t, f.revocationsAt.IsZero())
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeMaintenance{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
