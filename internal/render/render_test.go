package render

import (
	"context"
	"html"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/mailcast-backend/internal/blob"
	"github.com/unclebandit/mailcast-backend/internal/model"
)

func TestMerge(t *testing.T) {
	fields := map[string]string{"name": "Ann", "product": "<b>Tea</b>"}

	assert.Equal(t, "Hi Ann, try <b>Tea</b>", Merge("Hi {name}, try {product}", fields, nil))
	assert.Equal(t, "Hi Ann, try &lt;b&gt;Tea&lt;/b&gt;", Merge("Hi {name}, try {product}", fields, html.EscapeString))
	assert.Equal(t, "Hi {unknown}", Merge("Hi {unknown}", fields, nil))
	assert.Equal(t, "{name", Merge("{name", fields, nil))
}

type countingFetcher struct {
	*blob.Memory
	calls map[string]int
}

func (c *countingFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	c.calls[key]++
	return c.Memory.Fetch(ctx, key)
}

func TestRender(t *testing.T) {
	mem := blob.NewMemory()
	mem.Put("templates/spring.md", []byte("# Hello {name}\n\nYour address is {email}. {unknown}\n"))
	mem.Put("templates/raw.html", []byte(`<p onclick="steal()">Hi {name}</p><script>alert(1)</script>`))
	mem.Put("assets/terms.pdf", []byte("%PDF-1.4"))
	fetcher := &countingFetcher{Memory: mem, calls: map[string]int{}}
	r := NewRenderer(fetcher)
	ctx := context.Background()

	campaign := &model.Campaign{
		Subject:         "Spring deals for {name}",
		BodyTemplateRef: "templates/spring.md",
		AttachmentRefs:  []string{"assets/terms.pdf"},
	}
	rec := model.Recipient{Email: "ann@example.com", MergeFields: map[string]string{"name": "Ann & Co"}}

	t.Run("markdown template with attachment", func(t *testing.T) {
		out, err := r.Render(ctx, campaign, rec)
		require.NoError(t, err)

		assert.Equal(t, "Spring deals for Ann & Co", out.Subject)
		assert.Contains(t, out.HTML, "<h1>Hello Ann &amp; Co</h1>")
		assert.Contains(t, out.HTML, "ann@example.com")
		assert.Contains(t, out.HTML, "{unknown}")
		assert.Contains(t, out.Text, "Hello Ann & Co")
		require.Len(t, out.Attachments, 1)
		assert.Equal(t, "terms.pdf", out.Attachments[0].Filename)
		assert.Equal(t, "application/pdf", out.Attachments[0].ContentType)
	})

	t.Run("templates are cached", func(t *testing.T) {
		_, err := r.Render(ctx, campaign, rec)
		require.NoError(t, err)
		assert.Equal(t, 1, fetcher.calls["templates/spring.md"])
		assert.Equal(t, 2, fetcher.calls["assets/terms.pdf"])
	})

	t.Run("html templates are sanitised", func(t *testing.T) {
		out, err := r.Render(ctx, &model.Campaign{Subject: "s", BodyTemplateRef: "templates/raw.html"}, rec)
		require.NoError(t, err)
		assert.NotContains(t, out.HTML, "script")
		assert.NotContains(t, out.HTML, "onclick")
		assert.Contains(t, out.HTML, "Hi Ann &amp; Co")
	})

	t.Run("missing attachment fails the render", func(t *testing.T) {
		c := *campaign
		c.AttachmentRefs = []string{"assets/missing.pdf"}
		_, err := r.Render(ctx, &c, rec)
		assert.ErrorIs(t, err, blob.ErrNotFound)
	})
}
