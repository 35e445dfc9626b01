package editor

import "sync"

// EventType distinguishes editor events.
type EventType int

const (
	// ActiveViewChanged fires when another editor tab becomes active. A nil
	// View means no text editor is active.
	ActiveViewChanged EventType = iota
	// SelectionChanged fires when the cursor moves.
	SelectionChanged
	// DocumentChanged fires after a document's text is mutated.
	DocumentChanged
	// ViewFocusChanged fires when the text view gains or loses input focus.
	ViewFocusChanged
	// WindowFocusChanged fires when the editor window gains or loses focus.
	WindowFocusChanged
	// TerminalFocused fires when an integrated terminal becomes active.
	TerminalFocused
)

var eventNames = map[EventType]string{
	ActiveViewChanged:  "active_view_changed",
	SelectionChanged:   "selection_changed",
	DocumentChanged:    "document_changed",
	ViewFocusChanged:   "view_focus_changed",
	WindowFocusChanged: "window_focus_changed",
	TerminalFocused:    "terminal_focused",
}

func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return "unknown"
}

// Event carries the minimal data the controller needs.
type Event struct {
	Type EventType

	// View is the affected view, if any.
	View View

	// DocumentID names the mutated document for DocumentChanged.
	DocumentID string

	// Focused is set for the focus events.
	Focused bool
}

// Handler receives events. Handlers run on the dispatching goroutine.
type Handler func(Event)

// Disposable releases a subscription.
type Disposable interface {
	Dispose()
}

// DisposeFunc adapts a function to Disposable.
type DisposeFunc func()

// Dispose implements Disposable.
func (f DisposeFunc) Dispose() { f() }

// Source delivers editor events.
type Source interface {
	Subscribe(h Handler) Disposable
}

// Hub is a Source that fans events out to subscribers in FIFO order.
type Hub struct {
	mu       sync.Mutex
	dispatch sync.Mutex
	next     int
	handlers map[int]Handler
	order    []int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{handlers: make(map[int]Handler)}
}

// Subscribe implements Source.
func (h *Hub) Subscribe(fn Handler) Disposable {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	h.handlers[id] = fn
	h.order = append(h.order, id)

	var once sync.Once
	return DisposeFunc(func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.handlers, id)
			for i, v := range h.order {
				if v == id {
					h.order = append(h.order[:i], h.order[i+1:]...)
					break
				}
			}
		})
	})
}

// Publish delivers ev to every subscriber. Concurrent publishers are
// serialised so subscribers see one logical event thread.
func (h *Hub) Publish(ev Event) {
	h.dispatch.Lock()
	defer h.dispatch.Unlock()

	h.mu.Lock()
	handlers := make([]Handler, 0, len(h.order))
	for _, id := range h.order {
		handlers = append(handlers, h.handlers[id])
	}
	h.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
