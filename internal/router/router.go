// internal/router/router.go
package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unclebandit/mailcast-backend/internal/auth"
	"github.com/unclebandit/mailcast-backend/internal/controller"
	"github.com/unclebandit/mailcast-backend/internal/handler"
)

type Deps struct {
	Campaigns *controller.CampaignController
	Auth      *controller.AuthController
	Webhooks  *handler.WebhookHandler
	Verifier  auth.Verifier
	Log       *slog.Logger
}

// New builds the API router. Everything except login, refresh, the provider
// webhook and the health check sits behind the auth gate.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(d.Log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Post("/auth/login", d.Auth.Login)
	r.Post("/auth/refresh", d.Auth.Refresh)
	r.Post("/webhooks/provider", d.Webhooks.ProviderCallbackHandler)

	r.Group(func(r chi.Router) {
		r.Use(auth.Authenticate(d.Verifier, d.Log))

		r.Post("/auth/logout", d.Auth.Logout)

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", d.Campaigns.CreateCampaign)
			r.Get("/", d.Campaigns.ListCampaigns)
			r.Post("/{id}/schedule", d.Campaigns.ScheduleCampaign)
			r.Post("/{id}/cancel", d.Campaigns.CancelCampaign)
			r.Get("/{id}/status", d.Campaigns.GetCampaignStatus)
			r.Post("/{id}/preview", d.Campaigns.PersonalizedPreview)
		})
	})

	return r
}

func accessLog(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			log.LogAttrs(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
