// Package stream fans result events out to websocket subscribers.
package stream

import (
	"sync"
	"time"

	"election-service/pkg/logger"
)

// Message is what a subscriber receives
type Message struct {
	Type       string      `json:"type"`
	ElectionID string      `json:"election_id"`
	Data       interface{} `json:"data,omitempty"`
	Timestamp  int64       `json:"timestamp"`
}

type subscriber struct {
	ch chan Message
}

// Hub keeps the subscribers of every election. Slow subscribers lose messages
// instead of blocking the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
	log    *logger.Logger
}

func NewHub(buffer int, log *logger.Logger) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: buffer,
		log:    log.WithComponent("stream"),
	}
}

// Publish implements results.Publisher
func (h *Hub) Publish(electionID, event string, payload interface{}) {
	msg := Message{
		Type:       event,
		ElectionID: electionID,
		Data:       payload,
		Timestamp:  time.Now().Unix(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[electionID] {
		select {
		case s.ch <- msg:
		default:
			h.log.Debug("Dropping message for slow subscriber", "election_id", electionID, "type", event)
		}
	}
}

// Subscribe registers for electionID. The returned func unsubscribes and closes
// the channel; it is safe to call more than once.
func (h *Hub) Subscribe(electionID string) (<-chan Message, func()) {
	s := &subscriber{ch: make(chan Message, h.buffer)}

	h.mu.Lock()
	if h.subs[electionID] == nil {
		h.subs[electionID] = make(map[*subscriber]struct{})
	}
	h.subs[electionID][s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[electionID], s)
			if len(h.subs[electionID]) == 0 {
				delete(h.subs, electionID)
			}
			close(s.ch)
		})
	}
}

// ConnectionCount returns the number of live subscriptions
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}
