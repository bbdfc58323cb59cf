// internal/controller/campaign_controller.go
package controller

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/unclebandit/mailcast-backend/internal/auth"
	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/model"
	"github.com/unclebandit/mailcast-backend/internal/service"
)

const maxRecipientsPerRequest = 50000

type CampaignController struct {
	CampaignService *service.CampaignService
	Log             *slog.Logger
}

type CreateCampaignRequest struct {
	Subject         string   `json:"subject"`
	BodyTemplateRef string   `json:"body_template_ref"`
	AttachmentRefs  []string `json:"attachment_refs"`
}

func (r CreateCampaignRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Subject, validation.Required, validation.Length(1, 998)),
		validation.Field(&r.BodyTemplateRef, validation.Required, validation.Length(1, 1024)),
		validation.Field(&r.AttachmentRefs, validation.Length(0, 10)),
	)
}

type RecipientRequest struct {
	Email       string            `json:"email"`
	MergeFields map[string]string `json:"merge_fields"`
}

type ScheduleRequest struct {
	Recipients  []RecipientRequest `json:"recipients"`
	ScheduledAt *time.Time         `json:"scheduled_at"`
}

func (r ScheduleRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Recipients, validation.Required, validation.Length(1, maxRecipientsPerRequest)),
	)
	if err != nil {
		return err
	}

	errs := validation.Errors{}
	for i, rec := range r.Recipients {
		if err := validation.Validate(strings.TrimSpace(rec.Email), validation.Required, is.Email); err != nil {
			errs["recipients["+strconv.Itoa(i)+"].email"] = err
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

type PreviewRequest struct {
	Email       string            `json:"email"`
	MergeFields map[string]string `json:"merge_fields"`
}

func (r PreviewRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, is.Email),
	)
}

// principal pulls the caller placed by the auth gate.
func (c *CampaignController) principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, c.Log, appErrors.ErrMissingToken)
	}
	return p, ok
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	p, ok := c.principal(w, r)
	if !ok {
		return
	}

	var body CreateCampaignRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, c.Log, err)
		return
	}
	if err := validationError(body.Validate()); err != nil {
		writeError(w, c.Log, err)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), p, service.CreateCampaignInput{
		Subject:         body.Subject,
		BodyTemplateRef: body.BodyTemplateRef,
		AttachmentRefs:  body.AttachmentRefs,
	})
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	p, ok := c.principal(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), p, page, pageSize, status)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	p, ok := c.principal(w, r)
	if !ok {
		return
	}
	id, err := campaignID(r)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	var body ScheduleRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, c.Log, err)
		return
	}
	if err := validationError(body.Validate()); err != nil {
		writeError(w, c.Log, err)
		return
	}

	recipients := make([]model.Recipient, len(body.Recipients))
	for i, rec := range body.Recipients {
		recipients[i] = model.Recipient{Email: rec.Email, MergeFields: rec.MergeFields}
	}

	result, err := c.CampaignService.ScheduleCampaign(r.Context(), p, id, recipients, body.ScheduledAt)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (c *CampaignController) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	p, ok := c.principal(w, r)
	if !ok {
		return
	}
	id, err := campaignID(r)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	result, err := c.CampaignService.CancelCampaign(r.Context(), p, id)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *CampaignController) GetCampaignStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := c.principal(w, r)
	if !ok {
		return
	}
	id, err := campaignID(r)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	details, err := c.CampaignService.GetCampaignStatus(r.Context(), p, id)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// PersonalizedPreview renders the campaign for a sample recipient. The body is
// optional; a placeholder address stands in when no email is given.
func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	p, ok := c.principal(w, r)
	if !ok {
		return
	}
	id, err := campaignID(r)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	var body PreviewRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, c.Log, err)
			return
		}
	}
	if err := validationError(body.Validate()); err != nil {
		writeError(w, c.Log, err)
		return
	}
	if body.Email == "" {
		body.Email = "preview@example.com"
	}

	content, err := c.CampaignService.RenderPreview(r.Context(), p, id, model.Recipient{
		Email:       body.Email,
		MergeFields: body.MergeFields,
	})
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"subject":     content.Subject,
		"html":        content.HTML,
		"text":        content.Text,
		"attachments": len(content.Attachments),
	})
}
