package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Identity is the authenticated caller as resolved by the auth boundary.
type Identity struct {
	UserID   string
	Email    string
	Username string
	Name     string
}

// Summary returns the public user summary for the identity.
func (i Identity) Summary() *UserSummary {
	return &UserSummary{ID: i.UserID, Email: i.Email, Username: i.Username, Name: i.Name}
}

// TaskStore persists tasks. Implementations provide per-record atomicity only.
type TaskStore interface {
	FindTasks(ctx context.Context, ownerID string, f Filter) ([]Task, error)
	// GetTask returns nil without error when the task does not exist.
	GetTask(ctx context.Context, ownerID, id string) (*Task, error)
	InsertTask(ctx context.Context, t Task) error
	// UpdateTask runs mutate against the current record and persists the
	// result atomically, returning *NotFoundError when the task is absent.
	UpdateTask(ctx context.Context, ownerID, id string, mutate func(*Task) error) (Task, error)
	// DeleteTask returns *NotFoundError when the task is absent.
	DeleteTask(ctx context.Context, ownerID, id string) error
}

// Publisher fans change notifications out to connected sessions.
type Publisher interface {
	Publish(ctx context.Context, n ChangeNotification) error
}

// TaskService validates and applies task mutations, broadcasting each
// committed change exactly once.
type TaskService struct {
	store     TaskStore
	publisher Publisher
	logger    *log.Logger
	now       func() time.Time
	newID     func() string
}

// NewTaskService creates a TaskService. publisher may be nil when nothing
// listens for changes.
func NewTaskService(store TaskStore, publisher Publisher, logger *log.Logger) *TaskService {
	if store == nil {
		panic("domain.NewTaskService: store is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &TaskService{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// List returns the owner's tasks matching f in store order.
func (s *TaskService) List(ctx context.Context, ownerID string, f Filter) ([]Task, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	tasks, err := s.store.FindTasks(ctx, ownerID, f)
	if err != nil {
		return nil, &TransportError{Op: "find tasks", Err: err}
	}
	return tasks, nil
}

// Get returns a single task with its nested summaries.
func (s *TaskService) Get(ctx context.Context, ownerID, id string) (Task, error) {
	t, err := s.store.GetTask(ctx, ownerID, id)
	if err != nil {
		return Task{}, &TransportError{Op: "get task", Err: err}
	}
	if t == nil {
		return Task{}, &NotFoundError{ID: id}
	}
	return *t, nil
}

// Create validates the input, persists a new task and broadcasts it.
func (s *TaskService) Create(ctx context.Context, owner Identity, in TaskInput) (Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Task{}, &ValidationError{Field: "title", Reason: "title is required"}
	}
	status := in.Status
	if status == "" {
		status = StatusTodo
	} else if !status.Valid() {
		return Task{}, &ValidationError{Field: "status", Reason: "unknown status " + string(status)}
	}
	priority := in.Priority
	if priority == "" {
		priority = PriorityMedium
	} else if !priority.Valid() {
		return Task{}, &ValidationError{Field: "priority", Reason: "unknown priority " + string(priority)}
	}

	now := s.now()
	t := Task{
		ID:        s.newID(),
		Title:     title,
		Status:    status,
		Priority:  priority,
		UserID:    owner.UserID,
		CreatedAt: now,
		UpdatedAt: now,
		User:      owner.Summary(),
	}
	if in.Description != nil {
		d := *in.Description
		t.Description = &d
	}
	if err := s.store.InsertTask(ctx, t); err != nil {
		return Task{}, &TransportError{Op: "insert task", Err: err}
	}
	s.publish(ctx, ChangeNotification{Kind: ChangeCreated, TaskID: t.ID, Task: &t})
	return t, nil
}

// Update applies only the fields present in patch.
func (s *TaskService) Update(ctx context.Context, ownerID, id string, patch TaskPatch) (Task, error) {
	if err := validatePatch(patch); err != nil {
		return Task{}, err
	}
	updated, err := s.store.UpdateTask(ctx, ownerID, id, func(t *Task) error {
		patch.Apply(t, s.now())
		return nil
	})
	if err != nil {
		if IsNotFound(err) {
			return Task{}, err
		}
		return Task{}, &TransportError{Op: "update task", Err: err}
	}
	s.publish(ctx, ChangeNotification{Kind: ChangeUpdated, TaskID: updated.ID, Task: &updated})
	return updated, nil
}

// Delete removes the task and broadcasts its id.
func (s *TaskService) Delete(ctx context.Context, ownerID, id string) error {
	if err := s.store.DeleteTask(ctx, ownerID, id); err != nil {
		if IsNotFound(err) {
			return err
		}
		return &TransportError{Op: "delete task", Err: err}
	}
	s.publish(ctx, ChangeNotification{Kind: ChangeDeleted, TaskID: id})
	return nil
}

// AddComment appends a comment to the task and broadcasts the task as updated.
func (s *TaskService) AddComment(ctx context.Context, author Identity, taskID, content string) (Task, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Task{}, &ValidationError{Field: "content", Reason: "content is required"}
	}
	updated, err := s.store.UpdateTask(ctx, author.UserID, taskID, func(t *Task) error {
		now := s.now()
		c := Comment{
			ID:        s.newID(),
			TaskID:    t.ID,
			UserID:    author.UserID,
			Content:   content,
			CreatedAt: now,
			User:      author.Summary(),
		}
		// newest first
		t.Comments = append([]Comment{c}, t.Comments...)
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		if IsNotFound(err) {
			return Task{}, err
		}
		return Task{}, &TransportError{Op: "add comment", Err: err}
	}
	s.publish(ctx, ChangeNotification{Kind: ChangeUpdated, TaskID: updated.ID, Task: &updated})
	return updated, nil
}

func (s *TaskService) publish(ctx context.Context, n ChangeNotification) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, n); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"task": n.TaskID, "kind": n.Kind}).Error("broadcast change failed")
	}
}

func validatePatch(p TaskPatch) error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return &ValidationError{Field: "title", Reason: "title must not be empty"}
	}
	if p.Status != nil && !p.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown status " + string(*p.Status)}
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: "unknown priority " + string(*p.Priority)}
	}
	return nil
}
