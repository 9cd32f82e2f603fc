package domain

// ChangeKind identifies the mutation a notification announces.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// Push channel event names.
const (
	EventTaskCreated = "taskCreated"
	EventTaskUpdated = "taskUpdated"
	EventTaskDeleted = "taskDeleted"
)

// ChangeNotification announces a committed mutation. Task is set for created
// and updated, TaskID for every kind.
type ChangeNotification struct {
	Kind   ChangeKind
	TaskID string
	Task   *Task
}

// EventName maps the kind to its push channel event name.
func (n ChangeNotification) EventName() string {
	switch n.Kind {
	case ChangeCreated:
		return EventTaskCreated
	case ChangeUpdated:
		return EventTaskUpdated
	case ChangeDeleted:
		return EventTaskDeleted
	}
	return ""
}

// PushFrame is the JSON payload written to push channel subscribers.
type PushFrame struct {
	Event string `json:"event"`
	Task  *Task  `json:"task,omitempty"`
	ID    string `json:"id,omitempty"`
}

// Frame converts the notification to its wire form.
func (n ChangeNotification) Frame() PushFrame {
	f := PushFrame{Event: n.EventName(), Task: n.Task}
	if n.Kind == ChangeDeleted {
		f.Task = nil
		f.ID = n.TaskID
	}
	return f
}

// NotificationFromFrame is the inverse of Frame. ok is false for unknown events.
func NotificationFromFrame(f PushFrame) (ChangeNotification, bool) {
	switch f.Event {
	case EventTaskCreated, EventTaskUpdated:
		if f.Task == nil {
			return ChangeNotification{}, false
		}
		kind := ChangeCreated
		if f.Event == EventTaskUpdated {
			kind = ChangeUpdated
		}
		return ChangeNotification{Kind: kind, TaskID: f.Task.ID, Task: f.Task}, true
	case EventTaskDeleted:
		return ChangeNotification{Kind: ChangeDeleted, TaskID: f.ID}, true
	}
	return ChangeNotification{}, false
}
