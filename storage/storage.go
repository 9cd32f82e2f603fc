package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"tasksync/domain"
)

const (
	edmInt64          = "Edm.Int64"
	maxUpdateAttempts = 5
)

// Storage persists tasks in an Azure table partitioned by owner.
type Storage struct {
	taskTable *aztables.Client
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{taskTable: svc.NewClient(tasksTable)}, nil
}

// entity carries the table keys.
type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskEntity struct {
	entity
	Title         string  `json:"Title"`
	Description   *string `json:"Description,omitempty"`
	Status        string  `json:"Status"`
	Priority      string  `json:"Priority"`
	OwnerEmail    string  `json:"OwnerEmail,omitempty"`
	OwnerUsername string  `json:"OwnerUsername,omitempty"`
	OwnerName     string  `json:"OwnerName,omitempty"`
	Assignments   string  `json:"Assignments,omitempty"`
	Comments      string  `json:"Comments,omitempty"`
	CreatedAt     int64   `json:"CreatedAt,string"`
	CreatedAtType string  `json:"CreatedAt@odata.type"`
	UpdatedAt     int64   `json:"UpdatedAt,string"`
	UpdatedAtType string  `json:"UpdatedAt@odata.type"`
}

func toEntity(t domain.Task) (taskEntity, error) {
	ent := taskEntity{
		entity:        entity{PartitionKey: t.UserID, RowKey: t.ID},
		Title:         t.Title,
		Description:   t.Description,
		Status:        string(t.Status),
		Priority:      string(t.Priority),
		CreatedAt:     t.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
		UpdatedAt:     t.UpdatedAt.UnixNano(),
		UpdatedAtType: edmInt64,
	}
	if t.User != nil {
		ent.OwnerEmail = t.User.Email
		ent.OwnerUsername = t.User.Username
		ent.OwnerName = t.User.Name
	}
	if len(t.Assignments) > 0 {
		data, err := sonic.MarshalString(t.Assignments)
		if err != nil {
			return taskEntity{}, err
		}
		ent.Assignments = data
	}
	if len(t.Comments) > 0 {
		data, err := sonic.MarshalString(t.Comments)
		if err != nil {
			return taskEntity{}, err
		}
		ent.Comments = data
	}
	return ent, nil
}

func (ent taskEntity) toTask() (domain.Task, error) {
	t := domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Status:      domain.Status(ent.Status),
		Priority:    domain.Priority(ent.Priority),
		UserID:      ent.PartitionKey,
		CreatedAt:   time.Unix(0, ent.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, ent.UpdatedAt).UTC(),
		User: &domain.UserSummary{
			ID:       ent.PartitionKey,
			Email:    ent.OwnerEmail,
			Username: ent.OwnerUsername,
			Name:     ent.OwnerName,
		},
	}
	if ent.Assignments != "" {
		if err := sonic.UnmarshalString(ent.Assignments, &t.Assignments); err != nil {
			return domain.Task{}, err
		}
	}
	if ent.Comments != "" {
		if err := sonic.UnmarshalString(ent.Comments, &t.Comments); err != nil {
			return domain.Task{}, err
		}
	}
	return t, nil
}

// quote renders s as an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// buildFilter translates the exact-match constraints into an OData filter.
// Table storage has no substring operator, so search is applied after the query.
func buildFilter(ownerID string, f domain.Filter) string {
	clauses := []string{"PartitionKey eq " + quote(ownerID)}
	if f.Status != "" {
		clauses = append(clauses, "Status eq "+quote(string(f.Status)))
	}
	if f.Priority != "" {
		clauses = append(clauses, "Priority eq "+quote(string(f.Priority)))
	}
	return strings.Join(clauses, " and ")
}

// FindTasks retrieves the owner's tasks that satisfy f.
func (s *Storage) FindTasks(ctx context.Context, ownerID string, f domain.Filter) ([]domain.Task, error) {
	filter := buildFilter(ownerID, f)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := sonic.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			t, err := ent.toTask()
			if err != nil {
				return nil, err
			}
			if f.Search != "" && !f.Matches(t) {
				continue
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

func (s *Storage) getEntity(ctx context.Context, ownerID, id string) (*taskEntity, azcore.ETag, error) {
	resp, err := s.taskTable.GetEntity(ctx, ownerID, id, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, "", nil
		}
		return nil, "", err
	}
	var ent taskEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return nil, "", err
	}
	return &ent, resp.ETag, nil
}

// GetTask retrieves a task if present.
func (s *Storage) GetTask(ctx context.Context, ownerID, id string) (*domain.Task, error) {
	ent, _, err := s.getEntity(ctx, ownerID, id)
	if err != nil || ent == nil {
		return nil, err
	}
	t, err := ent.toTask()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertTask adds a new task entity.
func (s *Storage) InsertTask(ctx context.Context, t domain.Task) error {
	ent, err := toEntity(t)
	if err != nil {
		return err
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.taskTable.AddEntity(ctx, payload, nil)
	return err
}

// UpdateTask applies mutate with optimistic concurrency, re-reading the entity
// whenever the table reports a newer version.
func (s *Storage) UpdateTask(ctx context.Context, ownerID, id string, mutate func(*domain.Task) error) (domain.Task, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		ent, etag, err := s.getEntity(ctx, ownerID, id)
		if err != nil {
			return domain.Task{}, err
		}
		if ent == nil {
			return domain.Task{}, &domain.NotFoundError{ID: id}
		}
		t, err := ent.toTask()
		if err != nil {
			return domain.Task{}, err
		}
		if err := mutate(&t); err != nil {
			return domain.Task{}, err
		}
		next, err := toEntity(t)
		if err != nil {
			return domain.Task{}, err
		}
		payload, err := sonic.Marshal(next)
		if err != nil {
			return domain.Task{}, err
		}
		_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
		if err == nil {
			return t, nil
		}
		switch {
		case isStatus(err, http.StatusPreconditionFailed):
			if ctx.Err() != nil {
				return domain.Task{}, ctx.Err()
			}
			continue
		case isStatus(err, http.StatusNotFound):
			return domain.Task{}, &domain.NotFoundError{ID: id}
		default:
			return domain.Task{}, err
		}
	}
	return domain.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrConcurrencyConflict)
}

// DeleteTask removes a task entity.
func (s *Storage) DeleteTask(ctx context.Context, ownerID, id string) error {
	et := azcore.ETagAny
	_, err := s.taskTable.DeleteEntity(ctx, ownerID, id, &aztables.DeleteEntityOptions{IfMatch: &et})
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return &domain.NotFoundError{ID: id}
		}
		return err
	}
	return nil
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}
