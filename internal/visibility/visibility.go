// Package visibility decides whether a chapter is readable at a given time.
package visibility

import "time"

const (
	StatusDraft     = "draft"
	StatusScheduled = "scheduled"
	StatusPublished = "published"
)

// IsVisible reports whether a chapter in the given status, with the given
// scheduled publication time, is readable at now. A scheduled chapter with
// no publish time is never visible; that is a tolerated defect state, not
// an error.
func IsVisible(status string, publishAt *time.Time, now time.Time) bool {
	switch status {
	case StatusPublished:
		return true
	case StatusScheduled:
		return publishAt != nil && !publishAt.After(now)
	default:
		return false
	}
}
