package domain

import "strings"

// Filter is the set of constraints a client view is scoped to.
// Empty fields place no constraint on their dimension.
type Filter struct {
	Search   string   `json:"search,omitempty"`
	Status   Status   `json:"status,omitempty"`
	Priority Priority `json:"priority,omitempty"`
}

// IsEmpty reports whether the filter constrains nothing.
func (f Filter) IsEmpty() bool {
	return f.Search == "" && f.Status == "" && f.Priority == ""
}

// Matches reports whether t satisfies every non-empty constraint. Search is a
// case-sensitive substring match on the title or the description.
func (f Filter) Matches(t Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.Search != "" {
		if strings.Contains(t.Title, f.Search) {
			return true
		}
		if t.Description != nil && strings.Contains(*t.Description, f.Search) {
			return true
		}
		return false
	}
	return true
}

// Validate rejects enum values outside the known sets.
func (f Filter) Validate() error {
	if f.Status != "" && !f.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown status " + string(f.Status)}
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: "unknown priority " + string(f.Priority)}
	}
	return nil
}

// Key returns a stable string form used for cache keys.
func (f Filter) Key() string {
	return string(f.Status) + "|" + string(f.Priority) + "|" + f.Search
}
