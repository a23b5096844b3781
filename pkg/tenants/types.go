package tenants

import (
	"errors"
	"strings"
	"time"
)

// ErrTenantNotFound is returned when no tenant matches an ID or slug
var ErrTenantNotFound = errors.New("tenant not found")

// Tenant is an app hosted by the hub
type Tenant struct {
	ID        int64     `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// generateSlug lowercases name and keeps only [a-z0-9-]
func generateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
}
