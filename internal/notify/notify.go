// Package notify delivers user-facing messages.
package notify

import (
	"sync"
	"time"

	"smartcursor/internal/logging"
)

// Level classifies a message.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
)

// Message is one notification.
type Message struct {
	Level Level     `json:"level"`
	Text  string    `json:"text"`
	Time  time.Time `json:"time"`
}

// Notifier shows messages to the user.
type Notifier interface {
	Warn(text string)
	Info(text string)
}

// Hub logs every message and fans it out to subscribers, typically the
// connected editors.
type Hub struct {
	log  *logging.Logger
	mu   sync.Mutex
	next int
	subs map[int]func(Message)
}

// NewHub creates a hub logging through log.
func NewHub(log *logging.Logger) *Hub {
	if log == nil {
		log = logging.Discard()
	}
	return &Hub{log: log.WithComponent("notify"), subs: make(map[int]func(Message))}
}

// Warn implements Notifier.
func (h *Hub) Warn(text string) {
	h.log.Warn(text)
	h.publish(Message{Level: LevelWarning, Text: text, Time: time.Now()})
}

// Info implements Notifier.
func (h *Hub) Info(text string) {
	h.log.Info(text)
	h.publish(Message{Level: LevelInfo, Text: text, Time: time.Now()})
}

// Subscribe registers fn and returns a function removing it.
func (h *Hub) Subscribe(fn func(Message)) (cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

func (h *Hub) publish(m Message) {
	h.mu.Lock()
	subs := make([]func(Message), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		fn(m)
	}
}
