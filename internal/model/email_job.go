// internal/model/email_job.go
package model

import "time"

type JobState string

const (
	JobPending         JobState = "pending"
	JobInFlight        JobState = "in_flight"
	JobSent            JobState = "sent"
	JobFailedRetryable JobState = "failed_retryable"
	JobFailedPermanent JobState = "failed_permanent"
	JobBounced         JobState = "bounced"
	JobComplained      JobState = "complained"
	JobCancelled       JobState = "cancelled"
)

// TerminalJobStates are the states the dispatch pipeline never moves a job out of.
var TerminalJobStates = []JobState{JobSent, JobFailedPermanent, JobBounced, JobComplained, JobCancelled}

// IsTerminal reports whether the dispatch pipeline is done with the job.
func (s JobState) IsTerminal() bool {
	for _, t := range TerminalJobStates {
		if s == t {
			return true
		}
	}
	return false
}

// IsFinal reports whether delivery callbacks may no longer change the job.
// A sent job can still bounce or draw a complaint.
func (s JobState) IsFinal() bool {
	return s.IsTerminal() && s != JobSent
}

// EmailJob tracks the send of one campaign to one recipient.
type EmailJob struct {
	ID                int64      `db:"id" json:"id"`
	CampaignID        int64      `db:"campaign_id" json:"campaign_id"`
	RecipientEmail    string     `db:"recipient_email" json:"recipient_email"`
	State             JobState   `db:"state" json:"state"`
	AttemptCount      int        `db:"attempt_count" json:"attempt_count"`
	NextAttemptAt     time.Time  `db:"next_attempt_at" json:"next_attempt_at"`
	LastError         string     `db:"last_error" json:"last_error,omitempty"`
	ProviderMessageID string     `db:"provider_message_id" json:"provider_message_id,omitempty"`
	ClaimToken        string     `db:"claim_token" json:"-"`
	ClaimedAt         *time.Time `db:"claimed_at" json:"claimed_at,omitempty"`
	DeliveredAt       *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Outcome is what a worker learned from one send attempt.
type Outcome struct {
	State             JobState
	ProviderMessageID string
	Error             string
	NextAttemptAt     time.Time
	CountAttempt      bool
}
