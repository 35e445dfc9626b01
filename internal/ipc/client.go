package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrConnectionLost   = errors.New("connection to daemon lost")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// IPCClient talks to the daemon. Editor plugins use Notify for the
// fire-and-forget editor messages; the CLI uses the request methods.
type IPCClient struct {
	mu            sync.RWMutex
	conn          net.Conn
	sessionID     string
	serverVersion string
	connected     atomic.Bool

	writeMu sync.Mutex

	pending   map[uint32]chan *Message
	pendingMu sync.Mutex
	nextReqID atomic.Uint32

	eventChan    chan *Event
	eventHandler EventHandler
	eventMu      sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	config ClientConfig
}

// ClientConfig configures the client.
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	Editor         bool
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns CLI defaults for socketPath.
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ClientName:     "smartctl",
		ClientVersion:  "dev",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// EventHandler is called for every streamed event.
type EventHandler func(event *Event)

// NewClient creates an unconnected client.
func NewClient(cfg ClientConfig) *IPCClient {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &IPCClient{
		pending:   make(map[uint32]chan *Message),
		eventChan: make(chan *Event, 100),
		ctx:       ctx,
		cancel:    cancel,
		config:    cfg,
	}
}

// Connect dials the daemon and performs the handshake.
func (c *IPCClient) Connect() error {
	if c.connected.Load() {
		return nil
	}
	if c.ctx.Err() != nil {
		return ErrServerClosed
	}

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.Dial("unix", c.config.SocketPath)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
			return ErrDaemonNotRunning
		}
		return fmt.Errorf("connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)

	c.wg.Add(1)
	go c.readLoop(conn)

	if err := c.handshake(); err != nil {
		c.close()
		return fmt.Errorf("handshake: %w", err)
	}
	return nil
}

// Close disconnects.
func (c *IPCClient) Close() error {
	c.cancel()
	c.close()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		close(c.eventChan)
	case <-time.After(2 * time.Second):
	}
	return nil
}

func (c *IPCClient) close() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	c.connected.Store(false)

	c.pendingMu.Lock()
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[uint32]chan *Message)
	c.pendingMu.Unlock()
}

// IsConnected reports whether the connection is up.
func (c *IPCClient) IsConnected() bool {
	return c.connected.Load()
}

// SessionID returns the ID the server assigned.
func (c *IPCClient) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// ServerVersion returns the daemon version from the handshake.
func (c *IPCClient) ServerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverVersion
}

// SetEventHandler sets a callback for streamed events.
func (c *IPCClient) SetEventHandler(handler EventHandler) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	c.eventHandler = handler
}

// Events returns streamed events. It is closed by Close.
func (c *IPCClient) Events() <-chan *Event {
	return c.eventChan
}

func (c *IPCClient) handshake() error {
	resp, err := c.request(MsgHandshake, &HandshakeRequest{
		ClientName:      c.config.ClientName,
		ClientVersion:   c.config.ClientVersion,
		ProtocolVersion: ProtocolVersion,
		Editor:          c.config.Editor,
	})
	if err != nil {
		return err
	}

	var ack HandshakeResponse
	if err := decodeReply(resp, MsgHandshakeAck, &ack); err != nil {
		return err
	}

	c.mu.Lock()
	c.sessionID = ack.SessionID
	c.serverVersion = ack.ServerVersion
	c.mu.Unlock()
	return nil
}

// Notify sends an editor message without waiting for a reply.
func (c *IPCClient) Notify(msgType MessageType, payload any) error {
	data, err := Encode(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return c.write(NewMessage(msgType, 0, data))
}

func (c *IPCClient) write(msg *Message) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || !c.connected.Load() {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := msg.Write(conn); err != nil {
		c.close()
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *IPCClient) request(msgType MessageType, payload any) (*Message, error) {
	return c.requestWithTimeout(msgType, payload, c.config.RequestTimeout)
}

func (c *IPCClient) requestWithTimeout(msgType MessageType, payload any, timeout time.Duration) (*Message, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	var data []byte
	if payload != nil {
		var err error
		if data, err = Encode(payload); err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	reqID := c.nextReqID.Add(1)
	respChan := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(NewMessage(msgType, reqID, data)); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionLost
		}
		return resp, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-c.ctx.Done():
		return nil, ErrServerClosed
	}
}

func (c *IPCClient) readLoop(conn net.Conn) {
	defer c.wg.Done()

	for {
		msg, err := ReadMessage(conn)
		if err != nil {
			c.close()
			return
		}
		c.handleMessage(msg)
	}
}

func (c *IPCClient) handleMessage(msg *Message) {
	switch msg.Header.Type {
	case MsgPing:
		c.write(NewMessage(MsgPong, msg.Header.RequestID, nil))

	case MsgEvent:
		var event Event
		if err := Decode(msg.Payload, &event); err != nil {
			return
		}
		select {
		case c.eventChan <- &event:
		default:
		}
		c.eventMu.RLock()
		handler := c.eventHandler
		c.eventMu.RUnlock()
		if handler != nil {
			handler(&event)
		}

	default:
		// Replies, pongs included, go to the waiting request. Anything
		// nobody waits for is dropped.
		c.pendingMu.Lock()
		if ch, ok := c.pending[msg.Header.RequestID]; ok {
			select {
			case ch <- msg:
			default:
			}
		}
		c.pendingMu.Unlock()
	}
}

// decodeReply checks the reply type and decodes its payload into v.
func decodeReply(resp *Message, want MessageType, v any) error {
	if resp.Header.Type == MsgError {
		var errResp ErrorResponse
		if err := Decode(resp.Payload, &errResp); err != nil {
			return fmt.Errorf("undecodable error reply: %w", err)
		}
		return &errResp
	}
	if resp.Header.Type != want {
		return fmt.Errorf("unexpected response: %s", resp.Header.Type)
	}
	if v == nil || len(resp.Payload) == 0 {
		return nil
	}
	return Decode(resp.Payload, v)
}

// Ping checks that the daemon answers.
func (c *IPCClient) Ping() error {
	resp, err := c.requestWithTimeout(MsgPing, nil, 5*time.Second)
	if err != nil {
		return err
	}
	return decodeReply(resp, MsgPong, nil)
}

// Status returns the daemon status.
func (c *IPCClient) Status() (*StatusResponse, error) {
	resp, err := c.request(MsgStatusRequest, nil)
	if err != nil {
		return nil, err
	}
	var status StatusResponse
	if err := decodeReply(resp, MsgStatusResponse, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SetMode forces "english" or "chinese".
func (c *IPCClient) SetMode(mode string) (string, error) {
	resp, err := c.request(MsgSetMode, &SetModeRequest{Mode: mode})
	if err != nil {
		return "", err
	}
	var out SetModeResponse
	if err := decodeReply(resp, MsgSetModeResp, &out); err != nil {
		return "", err
	}
	return out.Mode, nil
}

// QueryIME returns the input method the daemon sees right now.
func (c *IPCClient) QueryIME() (*QueryIMEResponse, error) {
	resp, err := c.request(MsgQueryIME, nil)
	if err != nil {
		return nil, err
	}
	var out QueryIMEResponse
	if err := decodeReply(resp, MsgQueryIMEResp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reload asks the daemon to re-read its configuration file.
func (c *IPCClient) Reload() error {
	resp, err := c.request(MsgReloadConfig, nil)
	if err != nil {
		return err
	}
	var out ReloadResponse
	if err := decodeReply(resp, MsgReloadResp, &out); err != nil {
		return err
	}
	if !out.Success {
		return errors.New(out.Error)
	}
	return nil
}

// Subscribe starts streaming events. No arguments means all events.
func (c *IPCClient) Subscribe(events ...EventType) error {
	resp, err := c.request(MsgSubscribe, &SubscribeRequest{Events: events})
	if err != nil {
		return err
	}
	var out SubscribeResponse
	return decodeReply(resp, MsgSubscribeResp, &out)
}

// Metrics returns the daemon metrics.
func (c *IPCClient) Metrics() (*MetricsResponse, error) {
	resp, err := c.request(MsgMetrics, nil)
	if err != nil {
		return nil, err
	}
	var out MetricsResponse
	if err := decodeReply(resp, MsgMetricsResp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
