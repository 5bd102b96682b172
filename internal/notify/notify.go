package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventType string

const (
	NewStory       EventType = "new_story"
	NewChapter     EventType = "new_chapter"
	StoryCompleted EventType = "story_completed"
	StoryEvaluated EventType = "story_evaluated"
	SystemReset    EventType = "system_reset"
)

const DefaultBuffer = 32

type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// Publisher is fire-and-forget. Implementations must not block the caller.
type Publisher interface {
	Publish(eventType EventType, payload map[string]any)
}

// Hub fans events out to subscribers. A subscriber whose buffer is full
// misses the event. There is no history.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	next    uint64
	dropped atomic.Uint64
	logger  *zap.Logger
	now     func() time.Time
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{subs: map[uint64]chan Event{}, logger: logger, now: time.Now}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(eventType EventType, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	ev := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: h.now().UTC(),
		Payload:   payload,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
			h.logger.Debug("subscriber buffer full, event dropped", zap.String("type", string(eventType)))
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped is the number of deliveries skipped because a subscriber was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Discard is a Publisher that drops every event.
type Discard struct{}

func (Discard) Publish(EventType, map[string]any) {}
