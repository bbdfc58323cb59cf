// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// CanCancel reports whether a campaign in this status may still be cancelled.
func (s CampaignStatus) CanCancel() bool {
	return s == CampaignDraft || s == CampaignScheduled || s == CampaignSending
}

type Campaign struct {
	ID              int64          `db:"id" json:"id"`
	OwnerID         int64          `db:"owner_id" json:"owner_id"`
	Subject         string         `db:"subject" json:"subject"`
	BodyTemplateRef string         `db:"body_template_ref" json:"body_template_ref"`
	AttachmentRefs  []string       `db:"attachment_refs" json:"attachment_refs,omitempty"`
	Status          CampaignStatus `db:"status" json:"status"`
	ScheduledAt     *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
	CompletedAt     *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}
