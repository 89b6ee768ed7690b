package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

// Hub fans envelopes out to in-process subscribers of a session.
// It is the app.EventBus of a single node and the local leg of the Redis bus.
type Hub struct {
	buffer int
	log    *zap.Logger

	mu   sync.Mutex
	seq  map[string]int64
	subs map[string]map[chan domain.Envelope]struct{}
}

var _ app.EventBus = (*Hub)(nil)

func NewHub(buffer int, log *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		buffer: buffer,
		log:    log,
		seq:    make(map[string]int64),
		subs:   make(map[string]map[chan domain.Envelope]struct{}),
	}
}

// Publish stamps the next sequence number of the session and delivers the envelope.
func (h *Hub) Publish(_ context.Context, env domain.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq[env.SessionID]++
	env.Seq = h.seq[env.SessionID]
	h.deliverLocked(env)
	return nil
}

// Deliver hands an already sequenced envelope to local subscribers.
func (h *Hub) Deliver(env domain.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliverLocked(env)
}

// Subscribe registers a buffered subscriber. The returned cancel is idempotent.
func (h *Hub) Subscribe(_ context.Context, sessionID string) (<-chan domain.Envelope, func(), error) {
	ch := make(chan domain.Envelope, h.buffer)

	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[chan domain.Envelope]struct{})
		h.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		h.removeLocked(sessionID, ch)
		h.mu.Unlock()
	}
	return ch, cancel, nil
}

// Subscribers reports how many subscribers a session currently has.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

func (h *Hub) deliverLocked(env domain.Envelope) {
	for ch := range h.subs[env.SessionID] {
		select {
		case ch <- env:
		default:
			// a full queue means the client fell behind; it reconnects and reconciles from a snapshot
			h.log.Warn("dropping slow subscriber",
				zap.String("session_id", env.SessionID),
				zap.Int64("seq", env.Seq),
			)
			h.removeLocked(env.SessionID, ch)
		}
	}
}

func (h *Hub) removeLocked(sessionID string, ch chan domain.Envelope) {
	set, ok := h.subs[sessionID]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(h.subs, sessionID)
	}
}
