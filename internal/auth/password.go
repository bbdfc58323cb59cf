package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
)

const minBcryptCost = 10

var ErrEmptyPassword = errors.New("password must not be empty")

// HashPassword hashes with the given bcrypt cost, never below 10.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), max(cost, minBcryptCost))
	return string(h), err
}

// ComparePassword returns ErrInvalidCredentials on a mismatch.
func ComparePassword(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return appErrors.ErrInvalidCredentials
		}
		return err
	}
	return nil
}
