package domain

import (
	"strings"
	"time"
)

// Status is the workflow state of a task.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Priority ranks tasks for the owner.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// UserSummary is the public part of a user embedded in task payloads.
type UserSummary struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Assignment links a task to a user working on it.
type Assignment struct {
	UserID     string    `json:"userId"`
	AssignedAt time.Time `json:"assignedAt"`
}

// Comment is a note left on a task.
type Comment struct {
	ID        string       `json:"id"`
	TaskID    string       `json:"taskId"`
	UserID    string       `json:"userId"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"createdAt"`
	User      *UserSummary `json:"user,omitempty"`
}

// Task represents a single tracked unit of work.
type Task struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description *string      `json:"description,omitempty"`
	Status      Status       `json:"status"`
	Priority    Priority     `json:"priority"`
	UserID      string       `json:"userId"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	User        *UserSummary `json:"user,omitempty"`
	Assignments []Assignment `json:"assignments,omitempty"`
	Comments    []Comment    `json:"comments,omitempty"`
}

// TaskInput carries the fields accepted when creating a task.
type TaskInput struct {
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	Status      Status   `json:"status,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
}

// TaskPatch carries a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Status      *Status   `json:"status,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	Assignees   *[]string `json:"assignees,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil && p.Assignees == nil
}

// Apply merges the patch into t and stamps the modification time.
func (p TaskPatch) Apply(t *Task, now time.Time) {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		d := *p.Description
		t.Description = &d
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Assignees != nil {
		prev := make(map[string]time.Time, len(t.Assignments))
		for _, a := range t.Assignments {
			prev[a.UserID] = a.AssignedAt
		}
		assignments := make([]Assignment, 0, len(*p.Assignees))
		seen := make(map[string]struct{}, len(*p.Assignees))
		for _, uid := range *p.Assignees {
			if uid == "" {
				continue
			}
			if _, dup := seen[uid]; dup {
				continue
			}
			seen[uid] = struct{}{}
			at, ok := prev[uid]
			if !ok {
				at = now
			}
			assignments = append(assignments, Assignment{UserID: uid, AssignedAt: at})
		}
		t.Assignments = assignments
	}
	t.UpdatedAt = now
}

// Clone returns a deep copy so callers can hand tasks across goroutines.
func (t Task) Clone() Task {
	out := t
	if t.Description != nil {
		d := *t.Description
		out.Description = &d
	}
	if t.User != nil {
		u := *t.User
		out.User = &u
	}
	if t.Assignments != nil {
		out.Assignments = append([]Assignment(nil), t.Assignments...)
	}
	if t.Comments != nil {
		out.Comments = make([]Comment, len(t.Comments))
		for i, c := range t.Comments {
			if c.User != nil {
				u := *c.User
				c.User = &u
			}
			out.Comments[i] = c
		}
	}
	return out
}
