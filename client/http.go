package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"tasksync/domain"
)

// TaskAPI is the server surface the client side depends on.
type TaskAPI interface {
	ListTasks(ctx context.Context, f domain.Filter) ([]domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	AddComment(ctx context.Context, id, content string) (domain.Task, error)
}

// HTTPClient talks to the task REST API.
type HTTPClient struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// NewHTTPClient creates a client for the server at baseURL.
func NewHTTPClient(baseURL, bearer string) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bearer:  bearer,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ListTasks fetches the caller's tasks, sending only non-empty filter fields.
func (c *HTTPClient) ListTasks(ctx context.Context, f domain.Filter) ([]domain.Task, error) {
	q := url.Values{}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.Priority != "" {
		q.Set("priority", string(f.Priority))
	}
	path := "/api/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var tasks []domain.Task
	if err := c.do(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, nil
}

func (c *HTTPClient) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var t domain.Task
	err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &t)
	return t, err
}

func (c *HTTPClient) CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	var t domain.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks", in, &t)
	return t, err
}

func (c *HTTPClient) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	var t domain.Task
	err := c.do(ctx, http.MethodPut, "/api/tasks/"+url.PathEscape(id), patch, &t)
	return t, err
}

func (c *HTTPClient) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) AddComment(ctx context.Context, id, content string) (domain.Task, error) {
	var t domain.Task
	body := map[string]string{"content": content}
	err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/comments", body, &t)
	return t, err
}

// PushURL returns the WebSocket endpoint for change notifications.
func (c *HTTPClient) PushURL() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/ws"
	return u.String(), nil
}

// AuthHeader returns the headers to present when connecting to the server.
func (c *HTTPClient) AuthHeader() http.Header {
	h := http.Header{}
	if c.Bearer != "" {
		h.Set("Authorization", "Bearer "+c.Bearer)
	}
	return h
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return &domain.TransportError{Op: method + " " + path, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &domain.TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransportError{Op: method + " " + path, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return &domain.ValidationError{Reason: errorMessage(data, resp.Status)}
	case resp.StatusCode == http.StatusNotFound:
		return &domain.NotFoundError{ID: lastSegment(path)}
	case resp.StatusCode >= 300:
		return &domain.TransportError{
			Op:  method + " " + path,
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, errorMessage(data, resp.Status)),
		}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return &domain.TransportError{Op: "decode " + path, Err: err}
	}
	return nil
}

func errorMessage(data []byte, fallback string) string {
	var eb errorBody
	if err := sonic.Unmarshal(data, &eb); err == nil && eb.Error != "" {
		return eb.Error
	}
	return fallback
}

func lastSegment(path string) string {
	path = strings.TrimSuffix(path, "/comments")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	seg := path[strings.LastIndexByte(path, '/')+1:]
	if id, err := url.PathUnescape(seg); err == nil {
		return id
	}
	return seg
}
