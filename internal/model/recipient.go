// internal/model/recipient.go
package model

// Recipient is one address of a scheduled campaign. Rows are written once,
// in bulk, when the campaign is scheduled.
type Recipient struct {
	CampaignID  int64             `db:"campaign_id" json:"campaign_id"`
	Email       string            `db:"email" json:"email"`
	MergeFields map[string]string `db:"merge_fields" json:"merge_fields,omitempty"`
}
