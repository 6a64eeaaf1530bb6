// Package compliance manages frameworks, their requirements and the controls
// mapped onto them.
package compliance

import (
	"time"

	"github.com/grc-saas/grc/internal/scoring"
)

// Framework is a compliance standard adopted by an organization.
type Framework struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	Name           string    `json:"name"`
	Version        string    `json:"version"`
	Description    string    `json:"description"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// FrameworkInput creates a framework.
type FrameworkInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Version     string `json:"version" validate:"required,max=50"`
	Description string `json:"description" validate:"max=5000"`
	IsActive    *bool  `json:"isActive"`
}

// Requirement is a single clause of a framework.
type Requirement struct {
	ID          string    `json:"id"`
	FrameworkID string    `json:"frameworkId"`
	Code        string    `json:"code"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Priority    string    `json:"priority"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RequirementInput creates a requirement.
type RequirementInput struct {
	Code        string `json:"code" validate:"required,max=50"`
	Title       string `json:"title" validate:"required,max=300"`
	Description string `json:"description" validate:"max=5000"`
	Category    string `json:"category" validate:"max=100"`
	Priority    string `json:"priority" validate:"omitempty,oneof=low medium high critical"`
}

// Summary is the compliance posture of one framework. A requirement counts
// as compliant when at least one effective control is mapped to it.
type Summary struct {
	FrameworkID           string `json:"frameworkId"`
	TotalRequirements     int    `json:"totalRequirements"`
	CompliantRequirements int    `json:"compliantRequirements"`
	Percentage            int    `json:"percentage"`
}

// Control is a safeguard operated by the organization.
type Control struct {
	ID                 string            `json:"id"`
	OrganizationID     string            `json:"organizationId"`
	Name               string            `json:"name"`
	Description        string            `json:"description"`
	Category           string            `json:"category"`
	Type               string            `json:"type"`
	Frequency          scoring.Frequency `json:"frequency"`
	OwnerID            *string           `json:"ownerId,omitempty"`
	Status             string            `json:"status"`
	Effectiveness      string            `json:"effectiveness"`
	EffectivenessScore *int              `json:"effectivenessScore,omitempty"`
	LastTested         *time.Time        `json:"lastTested,omitempty"`
	NextTestDue        time.Time         `json:"nextTestDue"`
	Overdue            bool              `json:"overdue"`
	RequirementIDs     []string          `json:"requirementIds,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

// ControlInput creates or replaces a control.
type ControlInput struct {
	Name        string     `json:"name" validate:"required,max=200"`
	Description string     `json:"description" validate:"max=5000"`
	Category    string     `json:"category" validate:"max=100"`
	Type        string     `json:"type" validate:"required,oneof=preventive detective corrective"`
	Frequency   string     `json:"frequency" validate:"required,oneof=continuous daily weekly monthly quarterly annually"`
	OwnerID     *string    `json:"ownerId" validate:"omitempty,uuid"`
	Status      string     `json:"status" validate:"omitempty,oneof=active inactive under_review needs_update"`
	LastTested  *time.Time `json:"lastTested"`
}

// ControlRecord is a control write with derived fields resolved.
type ControlRecord struct {
	Name        string
	Description string
	Category    string
	Type        string
	Frequency   scoring.Frequency
	OwnerID     *string
	Status      string
	LastTested  *time.Time
	NextTestDue time.Time
}

// TestInput records the outcome of a control test.
type TestInput struct {
	Results  []TestResultInput `json:"results" validate:"required,min=1,dive"`
	TestedAt *time.Time        `json:"testedAt"`
}

// TestResultInput is one weighted test step. Weight defaults to 1.
type TestResultInput struct {
	Passed bool     `json:"passed"`
	Weight *float64 `json:"weight" validate:"omitempty,gte=0"`
}

// TestOutcome is persisted after a control test.
type TestOutcome struct {
	Score       int
	Rating      string
	TestedAt    time.Time
	NextTestDue time.Time
}

// MappingInput replaces the requirements a control satisfies.
type MappingInput struct {
	RequirementIDs []string `json:"requirementIds" validate:"dive,uuid"`
}
