package domain

import (
	"context"
	"errors"
	"sync"
)

type fakeStore struct {
	mu        sync.Mutex
	order     []string
	tasks     map[string]Task
	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string]Task{}}
}

func (f *fakeStore) FindTasks(ctx context.Context, ownerID string, flt Filter) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []Task{}
	for _, id := range f.order {
		t := f.tasks[id]
		if t.UserID == ownerID && flt.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (f *fakeStore) GetTask(ctx context.Context, ownerID, id string) (*Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok || t.UserID != ownerID {
		return nil, nil
	}
	cpy := t.Clone()
	return &cpy, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, t Task) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.tasks[t.ID]; exists {
		return errors.New("duplicate id")
	}
	f.tasks[t.ID] = t.Clone()
	f.order = append(f.order, t.ID)
	return nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, ownerID, id string, mutate func(*Task) error) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok || t.UserID != ownerID {
		return Task{}, &NotFoundError{ID: id}
	}
	if err := mutate(&t); err != nil {
		return Task{}, err
	}
	f.tasks[id] = t.Clone()
	return t, nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, ownerID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok || t.UserID != ownerID {
		return &NotFoundError{ID: id}
	}
	delete(f.tasks, id)
	for i, oid := range f.order {
		if oid == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeStore) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

type recordingPublisher struct {
	mu    sync.Mutex
	notes []ChangeNotification
	err   error
}

func (r *recordingPublisher) Publish(ctx context.Context, n ChangeNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return r.err
}

func (r *recordingPublisher) all() []ChangeNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChangeNotification(nil), r.notes...)
}
