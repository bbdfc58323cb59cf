// internal/controller/auth_controller.go
package controller

import (
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/unclebandit/mailcast-backend/internal/auth"
	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/service"
)

type AuthController struct {
	AuthService *service.AuthService
	Log         *slog.Logger
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(1, 200)),
	)
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (r RefreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (c *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	var body LoginRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, c.Log, err)
		return
	}
	if err := validationError(body.Validate()); err != nil {
		writeError(w, c.Log, err)
		return
	}

	pair, err := c.AuthService.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (c *AuthController) Refresh(w http.ResponseWriter, r *http.Request) {
	var body RefreshRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, c.Log, err)
		return
	}
	if err := validationError(body.Validate()); err != nil {
		writeError(w, c.Log, err)
		return
	}

	pair, err := c.AuthService.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// Logout runs behind the auth gate. The body is optional.
func (c *AuthController) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, c.Log, appErrors.ErrMissingToken)
		return
	}

	var body LogoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, c.Log, err)
			return
		}
	}

	if err := c.AuthService.Logout(r.Context(), p, body.RefreshToken); err != nil {
		writeError(w, c.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
