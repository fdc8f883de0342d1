package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"vitalguard/internal/access"
	"vitalguard/internal/model"
)

// Subscriber is a transient routing target: a live connection plus the
// visibility scope resolved at subscribe time. It holds no alert data.
type Subscriber struct {
	ID        string
	Principal model.Principal
	Scope     access.Scope
	ch        chan model.Event
}

// Events is the subscriber's receive side. Closed on eviction.
func (s *Subscriber) Events() <-chan model.Event {
	return s.ch
}

// Hub tracks connected subscribers and fans events out to those whose
// scope covers the affected subject. Delivery is best-effort: a full
// buffer means the consumer is too slow and the subscriber is evicted
// rather than blocking the producer.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]*Subscriber
	buffer int
	logger *slog.Logger
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[string]*Subscriber),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a connection and queues the snapshot as its first
// event, so a reconnecting client is consistent without racing the live
// feed. The subscriber is removed when ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, principal model.Principal, scope access.Scope, snapshot model.Event) *Subscriber {
	sub := &Subscriber{
		ID:        uuid.NewString(),
		Principal: principal,
		Scope:     scope,
		ch:        make(chan model.Event, h.buffer),
	}
	sub.ch <- snapshot

	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()

	if h.logger != nil {
		h.logger.Info("subscriber connected",
			"subscriber_id", sub.ID,
			"actor_id", principal.ID,
			"actor_role", principal.Role,
			"scope_all", scope.All,
			"scope_subjects", scope.SubjectIDs(),
		)
	}

	go func() {
		<-ctx.Done()
		h.Unsubscribe(sub.ID)
	}()
	return sub
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	close(sub.ch)
	if h.logger != nil {
		h.logger.Info("subscriber disconnected", "subscriber_id", id)
	}
}

// Broadcast delivers ev to every subscriber whose scope includes
// subjectID. Never blocks: subscribers that cannot keep up are evicted.
func (h *Hub) Broadcast(subjectID string, ev model.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	h.mu.Lock()
	var evicted []*Subscriber
	for _, sub := range h.subs {
		if !sub.Scope.Contains(subjectID) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			delete(h.subs, sub.ID)
			evicted = append(evicted, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range evicted {
		close(sub.ch)
		if h.logger != nil {
			h.logger.Warn("subscriber evicted, buffer full",
				"subscriber_id", sub.ID,
				"actor_id", sub.Principal.ID,
			)
		}
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
