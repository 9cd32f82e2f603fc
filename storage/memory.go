package storage

import (
	"context"
	"fmt"
	"sync"

	"tasksync/domain"
)

// Memory is an in-process task store. Tasks are returned in insertion order.
type Memory struct {
	mu    sync.RWMutex
	order []string
	tasks map[string]domain.Task
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tasks: make(map[string]domain.Task)}
}

func (m *Memory) FindTasks(ctx context.Context, ownerID string, f domain.Filter) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tasks := []domain.Task{}
	for _, id := range m.order {
		t := m.tasks[id]
		if t.UserID != ownerID || !f.Matches(t) {
			continue
		}
		tasks = append(tasks, t.Clone())
	}
	return tasks, nil
}

func (m *Memory) GetTask(ctx context.Context, ownerID, id string) (*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok || t.UserID != ownerID {
		return nil, nil
	}
	cpy := t.Clone()
	return &cpy, nil
}

func (m *Memory) InsertTask(ctx context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[t.ID]; exists {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	m.tasks[t.ID] = t.Clone()
	m.order = append(m.order, t.ID)
	return nil
}

func (m *Memory) UpdateTask(ctx context.Context, ownerID, id string, mutate func(*domain.Task) error) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.UserID != ownerID {
		return domain.Task{}, &domain.NotFoundError{ID: id}
	}
	t = t.Clone()
	if err := mutate(&t); err != nil {
		return domain.Task{}, err
	}
	m.tasks[id] = t.Clone()
	return t, nil
}

func (m *Memory) DeleteTask(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.UserID != ownerID {
		return &domain.NotFoundError{ID: id}
	}
	delete(m.tasks, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}
