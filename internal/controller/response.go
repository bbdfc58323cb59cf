package controller

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/unclebandit/mailcast-backend/internal/blob"
	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
)

const maxBodyBytes = 4 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses. Anything unclassified is
// logged and reported as a bare 500.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	var (
		ae *appErrors.AuthError
		nf *appErrors.ErrCampaignNotFound
		ve *appErrors.ValidationError
		it *appErrors.ErrInvalidTransition
		tl *http.MaxBytesError
	)

	switch {
	case errors.As(err, &ae):
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": ae.Reason})
	case errors.Is(err, appErrors.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": nf.Error()})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "validation failed", "fields": ve.Fields})
	case errors.As(err, &tl):
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
	case errors.As(err, &it):
		writeJSON(w, http.StatusConflict, map[string]string{"error": it.Error()})
	case errors.Is(err, blob.ErrNotFound):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "referenced asset not found"})
	default:
		log.Error("request failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

// decodeJSON reads a JSON body into dst. An oversized body is returned as
// *http.MaxBytesError; any other decode failure is a validation error on the body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tl *http.MaxBytesError
		if errors.As(err, &tl) {
			return err
		}
		return &appErrors.ValidationError{Fields: map[string]string{"body": err.Error()}}
	}
	return nil
}

// validationError converts ozzo-validation's per-field errors.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return err
	}
	fields := make(map[string]string, len(errs))
	for k, v := range errs {
		fields[k] = v.Error()
	}
	return &appErrors.ValidationError{Fields: fields}
}

func campaignID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, &appErrors.ValidationError{Fields: map[string]string{"id": "must be a positive integer"}}
	}
	return id, nil
}
