package users

import (
	"time"

	"github.com/grc-saas/grc/internal/shared"
)

// User is an account inside the caller's organization.
type User struct {
	ID             string      `json:"id"`
	Email          string      `json:"email"`
	FirstName      string      `json:"firstName"`
	LastName       string      `json:"lastName"`
	Role           shared.Role `json:"role"`
	OrganizationID string      `json:"organizationId"`
	IsActive       bool        `json:"isActive"`
	LastLogin      *time.Time  `json:"lastLogin,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// NewUser is a validated account ready to persist.
type NewUser struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         shared.Role
}

// CreateInput is the admin request to add a user.
type CreateInput struct {
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
	Role      string `json:"role" validate:"omitempty,oneof=admin compliance_manager risk_manager auditor vendor_manager user"`
}

// ProfileInput updates the caller's own display name.
type ProfileInput struct {
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
}

// AccessInput changes role and/or active flag. Nil fields are left alone.
type AccessInput struct {
	Role     *string `json:"role" validate:"omitempty,oneof=admin compliance_manager risk_manager auditor vendor_manager user"`
	IsActive *bool   `json:"isActive"`
}
