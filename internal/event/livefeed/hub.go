// Package livefeed fans recent growth events out to SSE subscribers.
package livefeed

import (
	"errors"
	"strings"
	"sync"
)

const (
	StatusAccepted     = "accepted"
	StatusDeduplicated = "deduplicated"
	StatusPublished    = "published"

	SourceAPI      = "api"
	SourceReplay   = "replay"
	SourceDispatch = "dispatch"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

// LiveEvent is the wire shape pushed to site event subscribers.
type LiveEvent struct {
	Kind           string `json:"kind"`
	SiteID         string `json:"site_id"`
	UserID         string `json:"user_id,omitempty"`
	Platform       string `json:"platform,omitempty"`
	EventType      string `json:"event_type,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Status         string `json:"status"`
	Source         string `json:"source"`
	OccurredAt     string `json:"occurred_at"`
}

// Hub keeps one bounded ring buffer per site. Streams exist only while
// subscribers are attached, so idle sites cost nothing.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []LiveEvent
	subs   map[uint64]chan LiveEvent
	nextID uint64
}

type Subscription struct {
	hub    *Hub
	siteID string
	id     uint64
	ch     chan LiveEvent
	once   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish delivers an event to all subscribers of the site without blocking.
// Slow subscribers drop events.
func (h *Hub) Publish(siteID string, event LiveEvent) {
	if h == nil {
		return
	}
	key := strings.TrimSpace(siteID)
	if key == "" {
		return
	}
	h.mu.RLock()
	stream := h.streams[key]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	stream.buffer = append(stream.buffer, event)
	if len(stream.buffer) > h.bufferSize {
		stream.buffer = stream.buffer[len(stream.buffer)-h.bufferSize:]
	}
	subs := make([]chan LiveEvent, 0, len(stream.subs))
	for _, ch := range stream.subs {
		subs = append(subs, ch)
	}
	stream.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe attaches to the site's stream and returns the buffered backlog.
func (h *Hub) Subscribe(siteID string) (*Subscription, []LiveEvent, error) {
	if h == nil {
		return nil, nil, errors.New("hub_unavailable")
	}
	key := strings.TrimSpace(siteID)
	if key == "" {
		return nil, nil, errors.New("invalid_site_id")
	}

	stream := h.ensureStream(key)
	stream.mu.Lock()
	if stream.subs == nil {
		stream.subs = make(map[uint64]chan LiveEvent)
	}
	id := stream.nextID
	stream.nextID++
	ch := make(chan LiveEvent, h.subscriberBuffer)
	stream.subs[id] = ch
	buffer := append([]LiveEvent(nil), stream.buffer...)
	stream.mu.Unlock()

	return &Subscription{
		hub:    h,
		siteID: key,
		id:     id,
		ch:     ch,
	}, buffer, nil
}

func (h *Hub) ensureStream(siteID string) *stream {
	h.mu.RLock()
	current := h.streams[siteID]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[siteID]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan LiveEvent)}
		h.streams[siteID] = current
	}
	return current
}

func (h *Hub) unsubscribe(siteID string, id uint64) {
	if h == nil {
		return
	}
	key := strings.TrimSpace(siteID)
	if key == "" {
		return
	}

	h.mu.RLock()
	stream := h.streams[key]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	delete(stream.subs, id)
	remaining := len(stream.subs)
	stream.mu.Unlock()
	if remaining != 0 {
		return
	}

	h.mu.Lock()
	current := h.streams[key]
	if current != stream {
		h.mu.Unlock()
		return
	}
	stream.mu.Lock()
	empty := len(stream.subs) == 0
	stream.mu.Unlock()
	if empty {
		delete(h.streams, key)
	}
	h.mu.Unlock()
}

func (s *Subscription) Events() <-chan LiveEvent {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.siteID, s.id)
	})
}
