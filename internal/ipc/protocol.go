// Package ipc connects editor plugins and the control CLI to the daemon.
//
// Every message is a fixed 16-byte header followed by a JSON payload. An
// editor plugin streams document and focus notifications, which the daemon
// turns into editor events. Control clients query status, force a mode or
// read the active input method, and may subscribe to mode and notification
// events.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"smartcursor/internal/cache"
	"smartcursor/internal/controller"
	"smartcursor/internal/editor"
	"smartcursor/internal/status"
)

const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x53435552 // "SCUR"

	// MaxPayload bounds a single message. Whole-document syncs are the
	// largest messages.
	MaxPayload = 16 * 1024 * 1024
)

// ErrServerClosed is returned by operations on a stopped server or client.
var ErrServerClosed = errors.New("ipc: server closed")

// MessageType identifies a message.
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005
	MsgAck          MessageType = 0x0006

	// Editor notifications (0x01xx). They are answered only when the
	// request ID is non-zero.
	MsgDocumentOpen   MessageType = 0x0100
	MsgDocumentChange MessageType = 0x0101
	MsgDocumentClose  MessageType = 0x0102
	MsgActiveView     MessageType = 0x0103
	MsgSelection      MessageType = 0x0104
	MsgViewFocus      MessageType = 0x0105
	MsgWindowFocus    MessageType = 0x0106
	MsgTerminalFocus  MessageType = 0x0107

	// Daemon control (0x02xx)
	MsgStatusRequest  MessageType = 0x0200
	MsgStatusResponse MessageType = 0x0201
	MsgSetMode        MessageType = 0x0202
	MsgSetModeResp    MessageType = 0x0203
	MsgQueryIME       MessageType = 0x0204
	MsgQueryIMEResp   MessageType = 0x0205
	MsgReloadConfig   MessageType = 0x0206
	MsgReloadResp     MessageType = 0x0207
	MsgMetrics        MessageType = 0x0208
	MsgMetricsResp    MessageType = 0x0209

	// Event streaming (0x05xx)
	MsgSubscribe       MessageType = 0x0500
	MsgSubscribeResp   MessageType = 0x0501
	MsgUnsubscribe     MessageType = 0x0502
	MsgUnsubscribeResp MessageType = 0x0503
	MsgEvent           MessageType = 0x0504
)

var messageNames = map[MessageType]string{
	MsgPing:            "ping",
	MsgPong:            "pong",
	MsgHandshake:       "handshake",
	MsgHandshakeAck:    "handshake_ack",
	MsgError:           "error",
	MsgAck:             "ack",
	MsgDocumentOpen:    "document_open",
	MsgDocumentChange:  "document_change",
	MsgDocumentClose:   "document_close",
	MsgActiveView:      "active_view",
	MsgSelection:       "selection",
	MsgViewFocus:       "view_focus",
	MsgWindowFocus:     "window_focus",
	MsgTerminalFocus:   "terminal_focus",
	MsgStatusRequest:   "status",
	MsgStatusResponse:  "status_response",
	MsgSetMode:         "set_mode",
	MsgSetModeResp:     "set_mode_response",
	MsgQueryIME:        "query_ime",
	MsgQueryIMEResp:    "query_ime_response",
	MsgReloadConfig:    "reload_config",
	MsgReloadResp:      "reload_response",
	MsgMetrics:         "metrics",
	MsgMetricsResp:     "metrics_response",
	MsgSubscribe:       "subscribe",
	MsgSubscribeResp:   "subscribe_response",
	MsgUnsubscribe:     "unsubscribe",
	MsgUnsubscribeResp: "unsubscribe_response",
	MsgEvent:           "event",
}

func (t MessageType) String() string {
	if s, ok := messageNames[t]; ok {
		return s
	}
	return fmt.Sprintf("0x%04x", uint16(t))
}

// EventType identifies a streamed event.
type EventType uint16

const (
	EventModeChanged    EventType = 0x0001
	EventNotification   EventType = 0x0002
	EventConfigChanged  EventType = 0x0003
	EventDaemonShutdown EventType = 0x0004
)

// AllEvents is what an empty subscription means.
var AllEvents = []EventType{EventModeChanged, EventNotification, EventConfigChanged, EventDaemonShutdown}

func (t EventType) String() string {
	switch t {
	case EventModeChanged:
		return "mode_changed"
	case EventNotification:
		return "notification"
	case EventConfigChanged:
		return "config_changed"
	case EventDaemonShutdown:
		return "daemon_shutdown"
	}
	return fmt.Sprintf("event(%d)", uint16(t))
}

// Header is the fixed-size message header.
type Header struct {
	Magic     uint32
	Version   uint8
	Flags     uint8
	Type      MessageType
	RequestID uint32
	Length    uint32
}

// HeaderSize is the encoded size of Header.
const HeaderSize = 16

// FlagJSON marks a JSON payload, the only encoding in use.
const FlagJSON uint8 = 0x04

// Message is a header and its payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a message with a JSON payload.
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write encodes the header to w.
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader decodes a header from r.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}
	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}
	return h, nil
}

// Write encodes the message to w in one write.
func (m *Message) Write(w io.Writer) error {
	buf := make([]byte, 0, HeaderSize+len(m.Payload))
	hw := &appendWriter{buf: buf}
	if err := m.Header.Write(hw); err != nil {
		return err
	}
	hw.buf = append(hw.buf, m.Payload...)
	_, err := w.Write(hw.buf)
	return err
}

type appendWriter struct{ buf []byte }

func (a *appendWriter) Write(p []byte) (int, error) {
	a.buf = append(a.buf, p...)
	return len(p), nil
}

// ReadMessage reads one complete message from r.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// HandshakeRequest opens a session.
type HandshakeRequest struct {
	ClientName      string `json:"client_name"`
	ClientVersion   string `json:"client_version"`
	ProtocolVersion uint8  `json:"protocol_version"`

	// Editor marks a client that streams editor notifications. Its
	// disconnect counts as the editor losing focus.
	Editor bool `json:"editor,omitempty"`
}

// HandshakeResponse acknowledges a session.
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
	SessionID       string `json:"session_id"`
}

// ErrorResponse reports a failed request.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("ipc error %d: %s", e.Code, e.Message)
}

// Error codes
const (
	ErrUnknown        = 1
	ErrInvalidRequest = 2
	ErrNotFound       = 3
	ErrPermission     = 4
	ErrInternal       = 5
	ErrUnavailable    = 6
)

// DocumentOpen announces a document with its full text.
type DocumentOpen struct {
	DocumentID string `json:"document_id"`
	LanguageID string `json:"language_id"`
	Version    int64  `json:"version"`
	Text       string `json:"text"`
}

// TextEdit replaces the range [Start, End) with Text.
type TextEdit = editor.Edit

// DocumentChange carries either the full new text or incremental edits.
// LanguageID, when set, records a language mode switch.
type DocumentChange struct {
	DocumentID string     `json:"document_id"`
	Version    int64      `json:"version"`
	Text       *string    `json:"text,omitempty"`
	Edits      []TextEdit `json:"edits,omitempty"`
	LanguageID string     `json:"language_id,omitempty"`
}

// DocumentClose forgets a document.
type DocumentClose struct {
	DocumentID string `json:"document_id"`
}

// ActiveView names the document in the focused editor tab. An empty ID
// means no text editor is active.
type ActiveView struct {
	DocumentID string           `json:"document_id,omitempty"`
	Cursor     *editor.Position `json:"cursor,omitempty"`
}

// Selection moves the cursor of a document.
type Selection struct {
	DocumentID string          `json:"document_id"`
	Cursor     editor.Position `json:"cursor"`
}

// Focus reports a focus transition.
type Focus struct {
	Focused bool `json:"focused"`
}

// SetModeRequest forces a mode, "english" or "chinese".
type SetModeRequest struct {
	Mode string `json:"mode"`
}

// SetModeResponse reports the mode after the request.
type SetModeResponse struct {
	Mode string `json:"mode"`
}

// QueryIMEResponse carries the active input method code.
type QueryIMEResponse struct {
	Backend string `json:"backend"`
	Code    string `json:"code"`
}

// ReloadResponse acknowledges a configuration reload.
type ReloadResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// MetricsResponse carries the daemon metrics, rendered and as values.
type MetricsResponse struct {
	Text   string             `json:"text"`
	Values map[string]float64 `json:"values"`
}

// StatusResponse describes the daemon.
type StatusResponse struct {
	Version    string              `json:"version"`
	StartedAt  time.Time           `json:"started_at"`
	Uptime     time.Duration       `json:"uptime"`
	ConfigPath string              `json:"config_path,omitempty"`
	Controller controller.Snapshot `json:"controller"`
	Label      status.Label        `json:"label"`
	Documents  int                 `json:"documents"`
	Clients    int                 `json:"clients"`
	Cache      *cache.Stats        `json:"cache,omitempty"`
}

// SubscribeRequest selects events. Empty means all.
type SubscribeRequest struct {
	Events []EventType `json:"events,omitempty"`
}

// SubscribeResponse acknowledges a subscription.
type SubscribeResponse struct {
	Success        bool   `json:"success"`
	SubscriptionID string `json:"subscription_id"`
}

// Event is a streamed event. Data holds a status.Label for
// EventModeChanged and a notify.Message for EventNotification.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent encodes data into an event.
func NewEvent(t EventType, data any) (*Event, error) {
	ev := &Event{Type: t, Timestamp: time.Now()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		ev.Data = raw
	}
	return ev, nil
}

// Encode encodes a payload.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes a payload.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error reply.
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{Code: code, Message: message})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a reply carrying v.
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
