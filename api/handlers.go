package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasksync/domain"
	"tasksync/subscription"
)

const maxBodySize = 1 << 20

// Authenticator resolves the caller from an Authorization header value.
type Authenticator interface {
	IdentityFromAuthHeader(string) (domain.Identity, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

type commentRequest struct {
	Content string `json:"content"`
}

type handlers struct {
	svc     *domain.TaskService
	hub     *subscription.Hub
	deduper Deduper
	log     *log.Logger
}

// Register wires up all API routes on the provided Echo instance. deduper may
// be nil, in which case Idempotency-Key headers are ignored.
func Register(e *echo.Echo, svc *domain.TaskService, hub *subscription.Hub, auth Authenticator, deduper Deduper, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	h := &handlers{svc: svc, hub: hub, deduper: deduper, log: logger}

	e.GET("/healthz", healthz)

	g := e.Group("/api", RequireIdentity(auth))
	g.GET("/tasks", h.listTasks)
	g.POST("/tasks", h.createTask)
	g.GET("/tasks/:id", h.getTask)
	g.PUT("/tasks/:id", h.updateTask)
	g.DELETE("/tasks/:id", h.deleteTask)
	g.POST("/tasks/:id/comments", h.addComment)
	g.GET("/ws", h.streamWS)
	g.GET("/stream", h.streamSSE)
}

func healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) listTasks(c echo.Context) (err error) {
	metrics, ctx := newTaskRequestMetrics(c.Request().Context(), h.log)
	c.SetRequest(c.Request().WithContext(ctx))
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()
	metrics.ObserveAuth(authDurationFrom(c))

	f := domain.Filter{
		Search:   c.QueryParam("search"),
		Status:   domain.Status(c.QueryParam("status")),
		Priority: domain.Priority(c.QueryParam("priority")),
	}
	metrics.SetFiltered(!f.IsEmpty())

	fetchStart := time.Now()
	tasks, listErr := h.svc.List(ctx, identityFrom(c).UserID, f)
	metrics.ObserveFetch(time.Since(fetchStart))
	if listErr != nil {
		if domain.IsValidation(listErr) {
			metrics.SetErrorStage("invalid_filter")
		} else {
			metrics.SetErrorStage("storage")
		}
		return h.writeError(c, listErr)
	}
	metrics.SetTasksReturned(len(tasks))

	encodeStart := time.Now()
	err = c.JSON(http.StatusOK, tasks)
	metrics.ObserveEncode(time.Since(encodeStart))
	if err != nil {
		metrics.SetErrorStage("encode_response")
	}
	return err
}

func (h *handlers) createTask(c echo.Context) error {
	ctx := c.Request().Context()
	id := identityFrom(c)

	key := c.Request().Header.Get(IdempotencyHeader)
	if key != "" && h.deduper != nil {
		added, err := h.deduper.Add(ctx, id.UserID, key)
		if err != nil {
			// Fail open when Redis is unavailable.
			h.log.WithError(err).Warn("idempotency check failed")
			key = ""
		} else if !added {
			return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
		}
	}
	release := func() {
		if key == "" || h.deduper == nil {
			return
		}
		if err := h.deduper.Remove(ctx, id.UserID, key); err != nil {
			h.log.WithError(err).Warn("release idempotency key")
		}
	}

	var in domain.TaskInput
	if err := decodeBody(c, &in); err != nil {
		release()
		return h.writeError(c, err)
	}
	task, err := h.svc.Create(ctx, id, in)
	if err != nil {
		release()
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, task)
}

func (h *handlers) getTask(c echo.Context) error {
	task, err := h.svc.Get(c.Request().Context(), identityFrom(c).UserID, c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, task)
}

func (h *handlers) updateTask(c echo.Context) error {
	var patch domain.TaskPatch
	if err := decodeBody(c, &patch); err != nil {
		return h.writeError(c, err)
	}
	task, err := h.svc.Update(c.Request().Context(), identityFrom(c).UserID, c.Param("id"), patch)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, task)
}

func (h *handlers) deleteTask(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), identityFrom(c).UserID, c.Param("id")); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) addComment(c echo.Context) error {
	var req commentRequest
	if err := decodeBody(c, &req); err != nil {
		return h.writeError(c, err)
	}
	task, err := h.svc.AddComment(c.Request().Context(), identityFrom(c), c.Param("id"), req.Content)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, task)
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	if err := sonic.ConfigStd.NewDecoder(lr).Decode(v); err != nil {
		return &domain.ValidationError{Reason: "invalid body"}
	}
	return nil
}

// writeError maps domain errors to status codes. Anything unexpected is
// logged and answered with a generic 500.
func (h *handlers) writeError(c echo.Context, err error) error {
	var ve *domain.ValidationError
	var nf *domain.NotFoundError
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: ve.Error()})
	case errors.As(err, &nf):
		return c.JSON(http.StatusNotFound, errorResponse{Error: nf.Error()})
	}
	h.log.WithError(err).WithFields(log.Fields{
		"method": c.Request().Method,
		"path":   c.Path(),
	}).Error("request failed")
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
}
