package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStateTerminality(t *testing.T) {
	for _, s := range []JobState{JobPending, JobInFlight, JobFailedRetryable} {
		assert.False(t, s.IsTerminal(), s)
		assert.False(t, s.IsFinal(), s)
	}
	for _, s := range TerminalJobStates {
		assert.True(t, s.IsTerminal(), s)
	}

	assert.False(t, JobSent.IsFinal())
	assert.True(t, JobBounced.IsFinal())
	assert.True(t, JobCancelled.IsFinal())
}

func TestCampaignCanCancel(t *testing.T) {
	assert.True(t, CampaignDraft.CanCancel())
	assert.True(t, CampaignScheduled.CanCancel())
	assert.True(t, CampaignSending.CanCancel())
	assert.False(t, CampaignCompleted.CanCancel())
	assert.False(t, CampaignCancelled.CanCancel())
}
