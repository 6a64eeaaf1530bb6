// Package tasks tracks remediation and follow-up work items.
package tasks

import (
	"sort"
	"time"

	"github.com/grc-saas/grc/internal/scoring"
)

// Task is a work item of the organization.
type Task struct {
	ID                string    `json:"id"`
	OrganizationID    string    `json:"organizationId"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	Type              string    `json:"type"`
	Priority          string    `json:"priority"`
	Status            string    `json:"status"`
	AssigneeID        *string   `json:"assigneeId,omitempty"`
	ReporterID        string    `json:"reporterId"`
	DueDate           time.Time `json:"dueDate"`
	EstimatedHours    *int      `json:"estimatedHours,omitempty"`
	ActualHours       *int      `json:"actualHours,omitempty"`
	Tags              []string  `json:"tags"`
	RelatedEntityID   *string   `json:"relatedEntityId,omitempty"`
	RelatedEntityType string    `json:"relatedEntityType,omitempty"`
	ExternalTaskID    string    `json:"externalTaskId,omitempty"`
	ExternalSystem    *string   `json:"externalSystem,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`

	Overdue      bool `json:"overdue"`
	DaysUntilDue int  `json:"daysUntilDue"`
}

// Closed reports whether the task no longer needs work.
func (t Task) Closed() bool {
	return t.Status == "done" || t.Status == "cancelled"
}

func (t *Task) derive(now time.Time) {
	t.Overdue = !t.Closed() && scoring.IsOverdueAt(t.DueDate, now)
	t.DaysUntilDue = scoring.DaysUntilDue(t.DueDate, now)
	if t.Tags == nil {
		t.Tags = []string{}
	}
}

// SortByPriority orders tasks by priority weight, then earliest due date.
func SortByPriority(items []Task) {
	sort.SliceStable(items, func(i, j int) bool {
		wi, wj := scoring.PriorityWeight(items[i].Priority), scoring.PriorityWeight(items[j].Priority)
		if wi != wj {
			return wi > wj
		}
		return items[i].DueDate.Before(items[j].DueDate)
	})
}

// Input creates or replaces a task.
type Input struct {
	Title             string    `json:"title" validate:"required,max=300"`
	Description       string    `json:"description" validate:"max=5000"`
	Type              string    `json:"type" validate:"omitempty,oneof=compliance risk audit vendor general"`
	Priority          string    `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Status            string    `json:"status" validate:"omitempty,oneof=todo in_progress review done blocked cancelled"`
	AssigneeID        *string   `json:"assigneeId" validate:"omitempty,uuid"`
	DueDate           time.Time `json:"dueDate" validate:"required"`
	EstimatedHours    *int      `json:"estimatedHours" validate:"omitempty,gte=0"`
	ActualHours       *int      `json:"actualHours" validate:"omitempty,gte=0"`
	Tags              []string  `json:"tags" validate:"max=20,dive,required,max=50"`
	RelatedEntityID   *string   `json:"relatedEntityId" validate:"omitempty,uuid"`
	RelatedEntityType string    `json:"relatedEntityType" validate:"omitempty,oneof=control risk audit vendor requirement"`
	ExternalTaskID    string    `json:"externalTaskId" validate:"max=200"`
	ExternalSystem    *string   `json:"externalSystem" validate:"omitempty,oneof=jira asana servicenow"`
}
