// Package organizations serves the caller's own tenant record.
package organizations

import "time"

// Organization is a tenant.
type Organization struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Domain    *string        `json:"domain,omitempty"`
	Settings  map[string]any `json:"settings"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// UpdateInput replaces name and domain. Settings are replaced only when sent.
type UpdateInput struct {
	Name     string         `json:"name" validate:"required,max=200"`
	Domain   string         `json:"domain" validate:"omitempty,fqdn,max=255"`
	Settings map[string]any `json:"settings"`
}
