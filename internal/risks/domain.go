// Package risks maintains the risk register: inherent and residual
// assessments, review scheduling and mitigating control mappings.
package risks

import (
	"time"

	"github.com/grc-saas/grc/internal/scoring"
)

// Risk is a register entry with its derived scores.
type Risk struct {
	ID             string              `json:"id"`
	OrganizationID string              `json:"organizationId"`
	Title          string              `json:"title"`
	Description    string              `json:"description"`
	Category       string              `json:"category"`
	OwnerID        *string             `json:"ownerId,omitempty"`
	Status         string              `json:"status"`
	Tolerance      string              `json:"tolerance"`
	Inherent       scoring.Assessment  `json:"inherent"`
	Residual       *scoring.Assessment `json:"residual,omitempty"`
	ReviewDate     time.Time           `json:"reviewDate"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`

	InherentScore int            `json:"inherentScore"`
	InherentLevel scoring.Level  `json:"inherentLevel"`
	ResidualScore *int           `json:"residualScore,omitempty"`
	ResidualLevel *scoring.Level `json:"residualLevel,omitempty"`
	ReviewOverdue bool           `json:"reviewOverdue"`
	ControlIDs    []string       `json:"controlIds,omitempty"`
}

// derive fills the computed fields from the stored ratings.
func (r *Risk) derive(now time.Time) {
	r.InherentScore = r.Inherent.Score()
	r.InherentLevel = r.Inherent.Level()
	r.ResidualScore, r.ResidualLevel = nil, nil
	if r.Residual != nil {
		score, level := r.Residual.Score(), r.Residual.Level()
		r.ResidualScore, r.ResidualLevel = &score, &level
	}
	r.ReviewOverdue = scoring.IsOverdueAt(r.ReviewDate, now)
}

// Input creates or replaces a risk.
type Input struct {
	Title              string    `json:"title" validate:"required,max=300"`
	Description        string    `json:"description" validate:"max=5000"`
	Category           string    `json:"category" validate:"max=100"`
	OwnerID            *string   `json:"ownerId" validate:"omitempty,uuid"`
	Status             string    `json:"status" validate:"omitempty,oneof=identified assessed mitigated accepted transferred avoided"`
	Tolerance          string    `json:"tolerance" validate:"omitempty,oneof=very_low low medium high very_high"`
	InherentLikelihood int       `json:"inherentLikelihood" validate:"required"`
	InherentImpact     int       `json:"inherentImpact" validate:"required"`
	ResidualLikelihood *int      `json:"residualLikelihood"`
	ResidualImpact     *int      `json:"residualImpact"`
	ReviewDate         time.Time `json:"reviewDate" validate:"required"`
}

// Record is a validated risk write.
type Record struct {
	Title       string
	Description string
	Category    string
	OwnerID     *string
	Status      string
	Tolerance   string
	Inherent    scoring.Assessment
	Residual    *scoring.Assessment
	ReviewDate  time.Time
}

// ControlsInput replaces the mitigating controls of a risk.
type ControlsInput struct {
	ControlIDs []string `json:"controlIds" validate:"dive,uuid"`
}
