package subscription

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tasksync/domain"
)

// DefaultSessionBuffer is the number of undelivered notifications a session
// may hold before it is dropped.
const DefaultSessionBuffer = 64

var (
	notificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasksync_notifications_published_total",
		Help: "Change notifications published to the hub",
	}, []string{"event"})

	notificationDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasksync_notification_deliveries_total",
		Help: "Notifications queued to connected sessions",
	})

	sessionsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasksync_sessions_dropped_total",
		Help: "Sessions dropped because their buffer was full",
	})

	sessionsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tasksync_sessions_connected",
		Help: "Currently connected push sessions",
	})
)

// Hub fans change notifications out to every connected session.
type Hub struct {
	buffer int

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewHub creates a hub whose sessions buffer up to buffer notifications.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSessionBuffer
	}
	return &Hub{buffer: buffer, sessions: make(map[string]*Session)}
}

// Session is one connected push channel subscriber.
type Session struct {
	ID string

	hub *Hub
	ch  chan domain.ChangeNotification
}

// C returns the session's notification channel. It is closed when the
// session is closed or dropped.
func (s *Session) C() <-chan domain.ChangeNotification {
	return s.ch
}

// Close unsubscribes the session. It is safe to call more than once.
func (s *Session) Close() {
	s.hub.remove(s.ID)
}

// Subscribe registers a new session. Only notifications published after
// Subscribe returns are delivered to it.
func (h *Hub) Subscribe() *Session {
	s := &Session{
		ID:  ulid.Make().String(),
		hub: h,
		ch:  make(chan domain.ChangeNotification, h.buffer),
	}
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	sessionsConnected.Inc()
	return s
}

// Publish queues n on every session. A session that cannot accept it is
// dropped. Publish never blocks on a slow subscriber.
func (h *Hub) Publish(_ context.Context, n domain.ChangeNotification) error {
	notificationsPublished.WithLabelValues(n.EventName()).Inc()
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.sessions {
		select {
		case s.ch <- n:
			notificationDeliveries.Inc()
		default:
			sessionsDropped.Inc()
			h.removeLocked(id)
		}
	}
	return nil
}

// Len returns the number of connected sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
}

func (h *Hub) removeLocked(id string) {
	s, ok := h.sessions[id]
	if !ok {
		return
	}
	delete(h.sessions, id)
	close(s.ch)
	sessionsConnected.Dec()
}
