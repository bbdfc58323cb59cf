package token

import (
	"slices"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims is the signed payload of every token.
type Claims struct {
	jwt.RegisteredClaims
	Kind  Kind     `json:"kind"`
	Roles []string `json:"roles,omitempty"`
}

// SubjectID parses the numeric user id carried in sub.
func (c *Claims) SubjectID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

func (c *Claims) TokenID() string {
	return c.ID
}

func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// Token is a freshly issued, signed token.
type Token struct {
	Raw       string
	ID        string
	SubjectID int64
	Kind      Kind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Pair is what login and refresh hand back to the client.
type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
