package ipc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"smartcursor/internal/cache"
	"smartcursor/internal/config"
	"smartcursor/internal/controller"
	"smartcursor/internal/editor"
	"smartcursor/internal/imselect"
	"smartcursor/internal/logging"
	"smartcursor/internal/metrics"
	"smartcursor/internal/status"
)

const queryTimeout = 3 * time.Second

// Controls is the part of the controller the bridge drives.
type Controls interface {
	ForceMode(m controller.Mode) error
	Snapshot() controller.Snapshot
}

// Invalidator drops cached scan state of mutated or closed documents.
type Invalidator interface {
	InvalidateDocument(docID string, version int64)
	ForgetDocument(docID string)
}

// Reloader re-reads the configuration file.
type Reloader interface {
	Reload() error
	Path() string
}

// BridgeConfig wires a Bridge. Every field except Config may be nil.
type BridgeConfig struct {
	Version     string
	Config      config.Provider
	Controls    Controls
	Switcher    imselect.Switcher
	Invalidator Invalidator
	Reloader    Reloader
	Status      *status.Bar
	CacheStats  func() (cache.Stats, bool)
	Metrics     *metrics.Registry
	Logger      *logging.Logger
}

type document struct {
	buf    *editor.Buffer
	cursor *editor.Cursor
}

// Bridge is the Handler that keeps a mirror of the editor's documents and
// republishes editor notifications as editor events. It is the event source
// and the focus probe of the controller.
type Bridge struct {
	cfg       BridgeConfig
	hub       *editor.Hub
	log       *logging.Logger
	startedAt time.Time
	server    atomic.Pointer[Server]
	closed    atomic.Bool
	messages  *metrics.Counter

	mu         sync.Mutex
	docs       map[string]*document
	active     string
	focusKnown bool
	focused    bool
	editors    map[string]bool
}

// NewBridge creates a bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}
	b := &Bridge{
		cfg:       cfg,
		hub:       editor.NewHub(),
		log:       log.WithComponent("bridge"),
		startedAt: time.Now(),
		docs:      make(map[string]*document),
		editors:   make(map[string]bool),
		messages:  &metrics.Counter{},
	}
	if cfg.Metrics != nil {
		b.messages = cfg.Metrics.Counter("ipc_messages_total", "Messages handled by the editor bridge.")
		cfg.Metrics.GaugeFunc("documents", "Documents mirrored from connected editors.", func() float64 {
			return float64(b.DocumentCount())
		})
	}
	return b
}

// SetControls attaches the controller once it exists.
func (b *Bridge) SetControls(c Controls) {
	b.mu.Lock()
	b.cfg.Controls = c
	b.mu.Unlock()
}

// SetServer lets status replies report connected clients.
func (b *Bridge) SetServer(s *Server) {
	b.server.Store(s)
}

// Subscribe implements editor.Source.
func (b *Bridge) Subscribe(h editor.Handler) editor.Disposable {
	return b.hub.Subscribe(h)
}

// EditorFocused implements controller.FocusProbe. Until an editor reports
// focus the editor is assumed focused.
func (b *Bridge) EditorFocused(context.Context) (bool, error) {
	if b.closed.Load() {
		return false, ErrServerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.focusKnown {
		return true, nil
	}
	return b.focused, nil
}

// Close makes the focus probe fail, which stops the poll.
func (b *Bridge) Close() {
	b.closed.Store(true)
}

// ActiveView returns the view of the active document, or nil.
func (b *Bridge) ActiveView() editor.View {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.docs[b.active]; ok {
		return d.cursor
	}
	return nil
}

// DocumentCount returns the number of mirrored documents.
func (b *Bridge) DocumentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.docs)
}

// HandleMessage implements Handler.
func (b *Bridge) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	b.messages.Inc()
	switch msg.Header.Type {
	case MsgDocumentOpen:
		return b.handleOpen(client, msg)
	case MsgDocumentChange:
		return b.handleChange(msg)
	case MsgDocumentClose:
		return b.handleClose(msg)
	case MsgActiveView:
		return b.handleActive(client, msg)
	case MsgSelection:
		return b.handleSelection(client, msg)
	case MsgViewFocus, MsgWindowFocus, MsgTerminalFocus:
		return b.handleFocus(client, msg)
	case MsgStatusRequest:
		return b.handleStatus(msg)
	case MsgSetMode:
		return b.handleSetMode(msg)
	case MsgQueryIME:
		return b.handleQuery(ctx, msg)
	case MsgReloadConfig:
		return b.handleReload(msg)
	case MsgMetrics:
		return b.handleMetrics(msg)
	default:
		return b.fail(msg, ErrInvalidRequest, fmt.Sprintf("unknown message type: %s", msg.Header.Type)), nil
	}
}

// ClientGone implements DisconnectHandler. When the last editor leaves,
// its documents are dropped and the editor counts as closed.
func (b *Bridge) ClientGone(client *Client) {
	b.mu.Lock()
	if !b.editors[client.ID] {
		b.mu.Unlock()
		return
	}
	delete(b.editors, client.ID)
	if len(b.editors) > 0 {
		b.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(b.docs))
	for id := range b.docs {
		ids = append(ids, id)
	}
	b.docs = make(map[string]*document)
	b.active = ""
	b.focusKnown = false
	b.mu.Unlock()

	for _, id := range ids {
		b.forget(id)
	}
	b.log.Debug("last editor disconnected", "documents", len(ids))
	b.hub.Publish(editor.Event{Type: editor.ActiveViewChanged})
}

// ack answers a notification only when the sender asked for a reply.
func ack(msg *Message) *Message {
	if msg.Header.RequestID == 0 {
		return nil
	}
	return NewMessage(MsgAck, msg.Header.RequestID, nil)
}

func (b *Bridge) fail(msg *Message, code int, text string) *Message {
	b.log.Debug("request failed", "type", msg.Header.Type, "error", text)
	if msg.Header.RequestID == 0 && isNotification(msg.Header.Type) {
		return nil
	}
	return NewErrorMessage(msg.Header.RequestID, code, text)
}

func isNotification(t MessageType) bool {
	return t >= MsgDocumentOpen && t <= MsgTerminalFocus
}

// markEditor must be called with b.mu held.
func (b *Bridge) markEditor(client *Client) {
	if client != nil && client.IsEditor() {
		b.editors[client.ID] = true
	}
}

func (b *Bridge) invalidate(id string, version int64) {
	if b.cfg.Invalidator != nil {
		b.cfg.Invalidator.InvalidateDocument(id, version)
	}
}

func (b *Bridge) forget(id string) {
	if b.cfg.Invalidator != nil {
		b.cfg.Invalidator.ForgetDocument(id)
	}
}

func (b *Bridge) handleOpen(client *Client, msg *Message) (*Message, error) {
	var req DocumentOpen
	if err := Decode(msg.Payload, &req); err != nil || req.DocumentID == "" {
		return b.fail(msg, ErrInvalidRequest, "invalid document_open"), nil
	}

	buf := editor.NewBufferAt(req.DocumentID, req.LanguageID, req.Text, req.Version)
	b.mu.Lock()
	b.markEditor(client)
	b.docs[req.DocumentID] = &document{buf: buf, cursor: editor.NewCursor(buf, editor.Position{})}
	b.mu.Unlock()

	// A reopened document may restart at a lower version.
	b.forget(req.DocumentID)
	return ack(msg), nil
}

func (b *Bridge) lookup(id string) (*document, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.docs[id]
	return d, ok
}

func (b *Bridge) handleChange(msg *Message) (*Message, error) {
	var req DocumentChange
	if err := Decode(msg.Payload, &req); err != nil {
		return b.fail(msg, ErrInvalidRequest, "invalid document_change"), nil
	}
	d, ok := b.lookup(req.DocumentID)
	if !ok {
		return b.fail(msg, ErrNotFound, "unknown document "+req.DocumentID), nil
	}

	changed := false
	if req.LanguageID != "" && req.LanguageID != d.buf.LanguageID() {
		d.buf.SetLanguageID(req.LanguageID)
		changed = true
	}
	switch {
	case req.Text != nil && req.Version > 0:
		changed = d.buf.SetTextVersion(*req.Text, req.Version) || changed
	case req.Text != nil:
		d.buf.SetText(*req.Text)
		changed = true
	case len(req.Edits) > 0:
		changed = d.buf.ApplyEdits(req.Edits, req.Version) || changed
	}
	if !changed {
		return ack(msg), nil
	}

	b.invalidate(req.DocumentID, d.buf.Version())
	b.hub.Publish(editor.Event{Type: editor.DocumentChanged, DocumentID: req.DocumentID})
	return ack(msg), nil
}

func (b *Bridge) handleClose(msg *Message) (*Message, error) {
	var req DocumentClose
	if err := Decode(msg.Payload, &req); err != nil {
		return b.fail(msg, ErrInvalidRequest, "invalid document_close"), nil
	}

	b.mu.Lock()
	delete(b.docs, req.DocumentID)
	if b.active == req.DocumentID {
		b.active = ""
	}
	b.mu.Unlock()

	b.forget(req.DocumentID)
	return ack(msg), nil
}

func (b *Bridge) handleActive(client *Client, msg *Message) (*Message, error) {
	var req ActiveView
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return b.fail(msg, ErrInvalidRequest, "invalid active_view"), nil
		}
	}

	b.mu.Lock()
	b.markEditor(client)
	if req.DocumentID == "" {
		b.active = ""
		b.mu.Unlock()
		b.hub.Publish(editor.Event{Type: editor.ActiveViewChanged})
		return ack(msg), nil
	}
	d, ok := b.docs[req.DocumentID]
	if !ok {
		b.mu.Unlock()
		return b.fail(msg, ErrNotFound, "unknown document "+req.DocumentID), nil
	}
	if req.Cursor != nil {
		d.cursor.MoveTo(*req.Cursor)
	}
	b.active = req.DocumentID
	b.focused = true
	b.mu.Unlock()

	b.hub.Publish(editor.Event{Type: editor.ActiveViewChanged, View: d.cursor})
	return ack(msg), nil
}

func (b *Bridge) handleSelection(client *Client, msg *Message) (*Message, error) {
	var req Selection
	if err := Decode(msg.Payload, &req); err != nil {
		return b.fail(msg, ErrInvalidRequest, "invalid selection"), nil
	}

	b.mu.Lock()
	b.markEditor(client)
	d, ok := b.docs[req.DocumentID]
	if !ok {
		b.mu.Unlock()
		return b.fail(msg, ErrNotFound, "unknown document "+req.DocumentID), nil
	}
	d.cursor.MoveTo(req.Cursor)
	b.active = req.DocumentID
	b.focused = true
	b.mu.Unlock()

	b.hub.Publish(editor.Event{Type: editor.SelectionChanged, View: d.cursor})
	return ack(msg), nil
}

func (b *Bridge) handleFocus(client *Client, msg *Message) (*Message, error) {
	var req Focus
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return b.fail(msg, ErrInvalidRequest, "invalid focus message"), nil
		}
	}

	ev := editor.Event{Focused: req.Focused}
	b.mu.Lock()
	b.markEditor(client)
	switch msg.Header.Type {
	case MsgViewFocus:
		ev.Type = editor.ViewFocusChanged
		b.focused = req.Focused
	case MsgWindowFocus:
		ev.Type = editor.WindowFocusChanged
		b.focused = req.Focused
	case MsgTerminalFocus:
		ev.Type = editor.TerminalFocused
		ev.Focused = false
		b.focused = false
	}
	b.focusKnown = true
	if d, ok := b.docs[b.active]; ok {
		ev.View = d.cursor
	}
	b.mu.Unlock()

	b.hub.Publish(ev)
	return ack(msg), nil
}

func (b *Bridge) controls() Controls {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.Controls
}

func (b *Bridge) handleStatus(msg *Message) (*Message, error) {
	resp := &StatusResponse{
		Version:   b.cfg.Version,
		StartedAt: b.startedAt,
		Uptime:    time.Since(b.startedAt),
		Documents: b.DocumentCount(),
	}
	if b.cfg.Reloader != nil {
		resp.ConfigPath = b.cfg.Reloader.Path()
	}
	if c := b.controls(); c != nil {
		resp.Controller = c.Snapshot()
	}
	if b.cfg.Status != nil {
		resp.Label = b.cfg.Status.Current()
	}
	if s := b.server.Load(); s != nil {
		resp.Clients = s.ClientCount()
	}
	if b.cfg.CacheStats != nil {
		if stats, ok := b.cfg.CacheStats(); ok {
			resp.Cache = &stats
		}
	}
	return NewResponse(MsgStatusResponse, msg.Header.RequestID, resp)
}

func (b *Bridge) handleSetMode(msg *Message) (*Message, error) {
	var req SetModeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return b.fail(msg, ErrInvalidRequest, "invalid set_mode"), nil
	}
	mode, err := controller.ParseMode(req.Mode)
	if err != nil {
		return b.fail(msg, ErrInvalidRequest, err.Error()), nil
	}
	c := b.controls()
	if c == nil {
		return b.fail(msg, ErrUnavailable, "controller not attached"), nil
	}
	if err := c.ForceMode(mode); err != nil {
		if errors.Is(err, controller.ErrNotRunning) {
			return b.fail(msg, ErrUnavailable, err.Error()), nil
		}
		return nil, err
	}
	return NewResponse(MsgSetModeResp, msg.Header.RequestID, &SetModeResponse{Mode: c.Snapshot().Mode})
}

func (b *Bridge) handleQuery(ctx context.Context, msg *Message) (*Message, error) {
	if b.cfg.Switcher == nil {
		return b.fail(msg, ErrUnavailable, "no switch backend"), nil
	}
	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	code, err := b.cfg.Switcher.Query(qctx)
	if err != nil {
		if imselect.Unavailable(err) || errors.Is(err, imselect.ErrNoCommand) {
			return b.fail(msg, ErrUnavailable, err.Error()), nil
		}
		return b.fail(msg, ErrInternal, err.Error()), nil
	}

	backend := config.BackendIMSelect
	if b.cfg.Config != nil && b.cfg.Config.Current().Backend != "" {
		backend = b.cfg.Config.Current().Backend
	}
	return NewResponse(MsgQueryIMEResp, msg.Header.RequestID, &QueryIMEResponse{Backend: backend, Code: code})
}

func (b *Bridge) handleReload(msg *Message) (*Message, error) {
	if b.cfg.Reloader == nil {
		return b.fail(msg, ErrUnavailable, "configuration is not file backed"), nil
	}
	resp := &ReloadResponse{Success: true}
	if err := b.cfg.Reloader.Reload(); err != nil {
		resp.Success = false
		resp.Error = err.Error()
	}
	return NewResponse(MsgReloadResp, msg.Header.RequestID, resp)
}

func (b *Bridge) handleMetrics(msg *Message) (*Message, error) {
	if b.cfg.Metrics == nil {
		return b.fail(msg, ErrUnavailable, "metrics disabled"), nil
	}
	var text strings.Builder
	if err := b.cfg.Metrics.WritePrometheus(&text); err != nil {
		return nil, err
	}
	return NewResponse(MsgMetricsResp, msg.Header.RequestID, &MetricsResponse{
		Text:   text.String(),
		Values: b.cfg.Metrics.Snapshot(),
	})
}
