package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"tasksync/domain"
)

// ConnState is the push channel connection state.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = 5 * time.Second
	readTimeout       = 90 * time.Second
)

// Refetcher is notified whenever the listened-to data may have changed.
type Refetcher interface {
	Refetch()
}

// ChangeListener holds a push channel open and asks for a refetch after every
// change notification and after every (re)connect. Notification payloads are
// not applied to the list directly.
type ChangeListener struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	target  Refetcher
	log     *log.Logger
	onState func(ConnState)

	minBackoff time.Duration
	maxBackoff time.Duration

	mu    sync.Mutex
	state ConnState
}

// ListenerOption configures a ChangeListener.
type ListenerOption func(*ChangeListener)

// WithBackoff overrides the reconnect delay bounds.
func WithBackoff(initial, limit time.Duration) ListenerOption {
	return func(l *ChangeListener) {
		l.minBackoff = initial
		l.maxBackoff = limit
	}
}

// WithStateHook registers a callback for connection state transitions.
func WithStateHook(fn func(ConnState)) ListenerOption {
	return func(l *ChangeListener) { l.onState = fn }
}

// WithListenerLogger sets the logger used for connection events.
func WithListenerLogger(logger *log.Logger) ListenerOption {
	return func(l *ChangeListener) { l.log = logger }
}

// NewChangeListener creates a listener for the WebSocket endpoint at url.
func NewChangeListener(url string, header http.Header, target Refetcher, opts ...ListenerOption) *ChangeListener {
	l := &ChangeListener{
		url:        url,
		header:     header,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		target:     target,
		log:        log.StandardLogger(),
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current connection state.
func (l *ChangeListener) State() ConnState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *ChangeListener) setState(s ConnState) {
	l.mu.Lock()
	changed := l.state != s
	l.state = s
	l.mu.Unlock()
	if changed && l.onState != nil {
		l.onState(s)
	}
}

// Run connects and reconnects until ctx is cancelled.
func (l *ChangeListener) Run(ctx context.Context) {
	defer l.setState(Disconnected)
	backoff := l.minBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		l.setState(Connecting)
		ws, resp, err := l.dialer.DialContext(ctx, l.url, l.header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			l.setState(Disconnected)
			l.log.WithError(err).WithField("retry_in", backoff).Warn("push channel connect failed")
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, l.maxBackoff)
			continue
		}

		backoff = l.minBackoff
		l.setState(Connected)
		l.log.WithField("url", l.url).Debug("push channel connected")
		// changes made while disconnected were never delivered
		l.target.Refetch()

		err = l.receive(ctx, ws)
		l.setState(Disconnected)
		if ctx.Err() != nil {
			return
		}
		l.log.WithError(err).WithField("retry_in", backoff).Warn("push channel lost")
		if !sleep(ctx, backoff) {
			return
		}
	}
}

func (l *ChangeListener) receive(ctx context.Context, ws *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			ws.Close()
		case <-done:
			ws.Close()
		}
	}()

	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		var frame domain.PushFrame
		if err := sonic.Unmarshal(data, &frame); err != nil {
			l.log.WithError(err).Warn("unable to parse push frame")
			continue
		}
		if _, ok := domain.NotificationFromFrame(frame); !ok {
			l.log.WithField("event", frame.Event).Debug("ignoring push frame")
			continue
		}
		l.target.Refetch()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
