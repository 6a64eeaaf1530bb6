package auth

import (
	"strings"
	"time"

	"github.com/grc-saas/grc/internal/shared"
)

// User represents an account as seen by the authentication flows.
type User struct {
	ID             string      `json:"id"`
	Email          string      `json:"email"`
	PasswordHash   string      `json:"-"`
	FirstName      string      `json:"firstName"`
	LastName       string      `json:"lastName"`
	Role           shared.Role `json:"role"`
	OrganizationID string      `json:"organizationId"`
	IsActive       bool        `json:"isActive"`
	LastLogin      *time.Time  `json:"lastLogin,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// NewOrganization is the tenant created during registration.
type NewOrganization struct {
	Name   string
	Domain string
}

// NewAccount is the first user of a freshly registered organization.
type NewAccount struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
}

// RegisterInput carries a self-service signup.
type RegisterInput struct {
	Email            string `json:"email" validate:"required,email,max=255"`
	Password         string `json:"password" validate:"required,min=8,max=128"`
	FirstName        string `json:"firstName" validate:"required,max=100"`
	LastName         string `json:"lastName" validate:"required,max=100"`
	OrganizationName string `json:"organizationName" validate:"required,max=200"`
	Domain           string `json:"domain" validate:"omitempty,fqdn,max=255"`
}

// Normalize canonicalises the email and trims the free-text fields.
func (in *RegisterInput) Normalize() {
	in.Email = normalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.OrganizationName = strings.TrimSpace(in.OrganizationName)
	in.Domain = strings.ToLower(strings.TrimSpace(in.Domain))
}

// Session is returned by every flow that issues a token.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}
