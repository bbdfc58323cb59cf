package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/mailcast-backend/internal/config"
	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/logger"
)

func TestClassify(t *testing.T) {
	cause := errors.New("boom")

	assert.NoError(t, Classify(202, nil))

	for _, status := range []int{400, 404, 410, 422} {
		assert.True(t, appErrors.IsPermanent(Classify(status, cause)), status)
	}
	for _, status := range []int{0, 401, 403, 408, 409, 429, 500, 502, 503} {
		err := Classify(status, cause)
		require.Error(t, err)
		assert.False(t, appErrors.IsPermanent(err), status)
	}
}

func newTestResend(t *testing.T, handler http.HandlerFunc) *Resend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s := NewResend(config.ProviderConfig{
		APIKey:      "re_test",
		SenderEmail: "news@example.com",
		SenderName:  "Example News",
		CallTimeout: time.Second,
	})
	require.NoError(t, s.SetBaseURL(srv.URL))
	return s
}

func TestResendSend(t *testing.T) {
	msg := Message{
		To:          "ann@example.com",
		Subject:     "Hello",
		HTML:        "<p>Hi Ann</p>",
		Attachments: []Attachment{{Filename: "terms.pdf", Content: []byte("%PDF"), ContentType: "application/pdf"}},
		Tags:        map[string]string{"campaign_id": "4"},
	}

	t.Run("accepted", func(t *testing.T) {
		var got map[string]any
		s := newTestResend(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/emails", r.URL.Path)
			assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &got))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"msg_123"}`))
		})

		res, err := s.Send(context.Background(), msg)
		require.NoError(t, err)
		assert.Equal(t, "msg_123", res.ProviderMessageID)
		assert.Equal(t, "Example News <news@example.com>", got["from"])
		assert.Equal(t, []any{"ann@example.com"}, got["to"])
	})

	t.Run("invalid address is permanent", func(t *testing.T) {
		s := newTestResend(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"statusCode":422,"name":"validation_error","message":"Invalid to field"}`))
		})

		_, err := s.Send(context.Background(), msg)
		var pe *appErrors.ProviderError
		require.ErrorAs(t, err, &pe)
		assert.True(t, pe.Permanent)
		assert.Equal(t, http.StatusUnprocessableEntity, pe.StatusCode)
	})

	t.Run("throttling is transient", func(t *testing.T) {
		s := newTestResend(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"statusCode":429,"name":"rate_limit_exceeded","message":"Too many requests"}`))
		})

		_, err := s.Send(context.Background(), msg)
		var pe *appErrors.ProviderError
		require.ErrorAs(t, err, &pe)
		assert.False(t, pe.Permanent)
		assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	})

	t.Run("server error is transient", func(t *testing.T) {
		s := newTestResend(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"message":"unavailable"}`))
		})

		_, err := s.Send(context.Background(), msg)
		require.Error(t, err)
		assert.False(t, appErrors.IsPermanent(err))
	})

	t.Run("unreachable provider is transient", func(t *testing.T) {
		s := NewResend(config.ProviderConfig{APIKey: "re_test", SenderEmail: "n@example.com", CallTimeout: time.Second})
		require.NoError(t, s.SetBaseURL("http://127.0.0.1:1"))

		_, err := s.Send(context.Background(), msg)
		var pe *appErrors.ProviderError
		require.ErrorAs(t, err, &pe)
		assert.False(t, pe.Permanent)
		assert.Zero(t, pe.StatusCode)
	})
}

func TestLogSender(t *testing.T) {
	s := NewLogSender(logger.Discard())
	res, err := s.Send(context.Background(), Message{To: "a@example.com"})
	require.NoError(t, err)
	assert.Len(t, res.ProviderMessageID, 36)
}

func TestNew(t *testing.T) {
	s, err := New(config.ProviderConfig{Name: "log"}, logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, &LogSender{}, s)

	_, err = New(config.ProviderConfig{Name: "smtp"}, logger.Discard())
	assert.Error(t, err)
}
