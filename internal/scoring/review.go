package scoring

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Frequency is a review or test cadence.
type Frequency string

const (
	FrequencyContinuous Frequency = "continuous"
	FrequencyDaily      Frequency = "daily"
	FrequencyWeekly     Frequency = "weekly"
	FrequencyMonthly    Frequency = "monthly"
	FrequencyQuarterly  Frequency = "quarterly"
	FrequencyAnnually   Frequency = "annually"
)

// ErrUnknownFrequency is returned by NextReviewDate for unsupported cadences.
var ErrUnknownFrequency = errors.New("unknown review frequency")

// Valid reports whether f is a supported cadence.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyContinuous, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyAnnually:
		return true
	}
	return false
}

// NextReviewDate advances last by one period of frequency. Month and year
// steps clamp to the last day of the target month, so 31 January plus one
// month lands on the end of February rather than in March.
func NextReviewDate(last time.Time, frequency Frequency) (time.Time, error) {
	switch frequency {
	case FrequencyContinuous, FrequencyDaily:
		return last.AddDate(0, 0, 1), nil
	case FrequencyWeekly:
		return last.AddDate(0, 0, 7), nil
	case FrequencyMonthly:
		return addMonths(last, 1), nil
	case FrequencyQuarterly:
		return addMonths(last, 3), nil
	case FrequencyAnnually:
		return addMonths(last, 12), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownFrequency, frequency)
	}
}

func addMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	// day 0 of the following month is the last day of the target month
	lastDay := time.Date(year, month+time.Month(months)+1, 0, 0, 0, 0, 0, t.Location()).Day()
	if day > lastDay {
		day = lastDay
	}
	hour, minute, sec := t.Clock()
	return time.Date(year, month+time.Month(months), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

// IsOverdue reports whether due is strictly before the current instant.
func IsOverdue(due time.Time) bool {
	return IsOverdueAt(due, time.Now())
}

// IsOverdueAt reports whether due is strictly before now. A zero due date is never overdue.
func IsOverdueAt(due, now time.Time) bool {
	if due.IsZero() {
		return false
	}
	return due.Before(now)
}

// DaysUntilDue returns the whole days remaining until due, rounded up.
// Negative values mean the date has passed.
func DaysUntilDue(due, now time.Time) int {
	return int(math.Ceil(due.Sub(now).Hours() / 24))
}

// DaysOverdue returns the whole days elapsed since due, rounded down and
// never less than 1 so an item a few hours late still reads as overdue.
func DaysOverdue(due, now time.Time) int {
	days := int(now.Sub(due) / (24 * time.Hour))
	if days < 1 {
		return 1
	}
	return days
}

// ControlStatusInactive marks a retired control. Every other status still
// carries a test schedule and counts toward overdue totals.
const ControlStatusInactive = "inactive"

// ControlTracksTests reports whether a control in status is held to its
// next_test_due date.
func ControlTracksTests(status string) bool {
	return status != ControlStatusInactive
}

// PriorityWeight orders task priorities, higher first.
func PriorityWeight(priority string) int {
	switch priority {
	case "urgent", "critical":
		return 4
	case "high":
		return 3
	case "medium":
		return 2
	default:
		return 1
	}
}
