package provider

import (
	"net/http"

	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
)

// Classify maps the HTTP status of a failed call to a provider error.
// A zero status means the request never got a response.
func Classify(status int, err error) error {
	if err == nil && status >= 200 && status < 300 {
		return nil
	}
	if IsPermanentStatus(status) {
		return appErrors.NewProviderPermanent(status, err)
	}
	return appErrors.NewProviderTransient(status, err)
}

// IsPermanentStatus reports whether the provider rejected the message itself:
// bad request, unknown or gone resources, or an invalid payload.
func IsPermanentStatus(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusGone, http.StatusUnprocessableEntity:
		return true
	}
	return false
}
