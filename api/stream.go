package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasksync/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 16 * 1024,
	// Sessions are authenticated by token, not by cookie, so any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamWS streams change notifications as text frames until the client
// disconnects or its session is dropped.
func (h *handlers) streamWS(c echo.Context) error {
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written an HTTP error
		return nil
	}
	defer conn.Close()

	session := h.hub.Subscribe()
	defer session.Close()
	logger := h.log.WithFields(log.Fields{"session": session.ID, "user": identityFrom(c).UserID})
	logger.Debug("websocket session opened")

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("websocket session closed")
			return nil
		case n, ok := <-session.C():
			if !ok {
				logger.Warn("websocket session dropped")
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session dropped"),
					time.Now().Add(writeWait))
				return nil
			}
			data, err := sonic.Marshal(n.Frame())
			if err != nil {
				logger.WithError(err).Error("marshal notification")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.WithError(err).Debug("websocket write failed")
				return nil
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.WithError(err).Debug("websocket ping failed")
				return nil
			}
		}
	}
}

// streamSSE streams change notifications as server-sent events.
func (h *handlers) streamSSE(c echo.Context) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "stream unsupported"})
	}

	session := h.hub.Subscribe()
	defer session.Close()
	logger := h.log.WithFields(log.Fields{"session": session.ID, "user": identityFrom(c).UserID})

	resp.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(resp, ": connected\n\n"); err != nil {
		return nil
	}
	flusher.Flush()

	ctx := c.Request().Context()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-session.C():
			if !ok {
				logger.Warn("sse session dropped")
				return nil
			}
			if err := writeEvent(resp, n); err != nil {
				logger.WithError(err).Debug("sse write failed")
				return nil
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(resp, ": ping\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, n domain.ChangeNotification) error {
	data, err := sonic.Marshal(n.Frame())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.EventName(), data)
	return err
}
