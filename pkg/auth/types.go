package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoIdentity is returned when a request carries no usable user identity
var ErrNoIdentity = errors.New("no user identity")

// Source describes where an identity came from
type Source string

const (
	SourceHeader  Source = "header"  // Trusted header set by the session proxy
	SourceContext Source = "context" // Placed on the context by an embedding host
)

// User represents an authenticated hub user
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// AuthContext represents the authentication context for a request
type AuthContext struct {
	User   *User  `json:"user"`
	Source Source `json:"source"`
}

// UserID returns the authenticated user's ID, or ErrNoIdentity
func (a *AuthContext) UserID() (int64, error) {
	if a == nil || a.User == nil || a.User.ID <= 0 {
		return 0, ErrNoIdentity
	}
	return a.User.ID, nil
}

// ParseUserID parses a user identifier as sent by the session proxy
func ParseUserID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrNoIdentity
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q: %w", raw, err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("invalid user id %d: %w", id, ErrNoIdentity)
	}
	return id, nil
}
