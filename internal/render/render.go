// Package render turns a campaign template and a recipient's merge fields into
// the message handed to the provider.
package render

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"mime"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"

	"github.com/unclebandit/mailcast-backend/internal/blob"
	"github.com/unclebandit/mailcast-backend/internal/model"
	"github.com/unclebandit/mailcast-backend/internal/provider"
)

// Content is a rendered email for one recipient.
type Content struct {
	Subject     string
	HTML        string
	Text        string
	Attachments []provider.Attachment
}

type Renderer struct {
	blobs  blob.Fetcher
	md     goldmark.Markdown
	policy *bluemonday.Policy
	strip  *bluemonday.Policy

	mu    sync.RWMutex
	cache map[string]string
}

func NewRenderer(blobs blob.Fetcher) *Renderer {
	return &Renderer{
		blobs:  blobs,
		md:     goldmark.New(),
		policy: bluemonday.UGCPolicy(),
		strip:  bluemonday.StrictPolicy(),
		cache:  map[string]string{},
	}
}

// Render fetches the campaign template and attachments and merges the
// recipient's fields. Blob failures are returned as is so the caller can retry.
func (r *Renderer) Render(ctx context.Context, c *model.Campaign, rec model.Recipient) (*Content, error) {
	tmpl, err := r.template(ctx, c.BodyTemplateRef)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]string, len(rec.MergeFields)+1)
	for k, v := range rec.MergeFields {
		fields[k] = v
	}
	fields["email"] = rec.Email

	body := Merge(tmpl, fields, html.EscapeString)
	out := &Content{
		Subject: Merge(c.Subject, fields, nil),
		HTML:    body,
		Text:    strings.TrimSpace(html.UnescapeString(r.strip.Sanitize(body))),
	}

	for _, ref := range c.AttachmentRefs {
		data, err := r.blobs.Fetch(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("fetch attachment %s: %w", ref, err)
		}
		name := path.Base(ref)
		out.Attachments = append(out.Attachments, provider.Attachment{
			Filename:    name,
			Content:     data,
			ContentType: mime.TypeByExtension(path.Ext(name)),
		})
	}
	return out, nil
}

// template returns the sanitised HTML body for ref. Markdown templates are
// converted first. Results are cached for the life of the process.
func (r *Renderer) template(ctx context.Context, ref string) (string, error) {
	r.mu.RLock()
	cached, ok := r.cache[ref]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	raw, err := r.blobs.Fetch(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("fetch template %s: %w", ref, err)
	}

	if strings.EqualFold(path.Ext(ref), ".md") {
		var buf bytes.Buffer
		if err := r.md.Convert(raw, &buf); err != nil {
			return "", fmt.Errorf("convert markdown %s: %w", ref, err)
		}
		raw = buf.Bytes()
	}
	body := r.policy.Sanitize(string(raw))

	r.mu.Lock()
	r.cache[ref] = body
	r.mu.Unlock()
	return body, nil
}

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_.\-]+)\}`)

// Merge replaces {field} placeholders with values from fields. Unknown
// placeholders are left untouched. When escape is set, values pass through it.
func Merge(template string, fields map[string]string, escape func(string) string) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		v, ok := fields[m[1:len(m)-1]]
		if !ok {
			return m
		}
		if escape != nil {
			return escape(v)
		}
		return v
	})
}
