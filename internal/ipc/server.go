package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"smartcursor/internal/config"
	"smartcursor/internal/logging"
)

// Handler processes messages the server does not handle itself.
type Handler interface {
	HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, client *Client, msg *Message) (*Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	return f(ctx, client, msg)
}

// DisconnectHandler is implemented by handlers that track clients.
type DisconnectHandler interface {
	ClientGone(client *Client)
}

// Server accepts connections on a Unix socket.
type Server struct {
	mu          sync.RWMutex
	listener    net.Listener
	cfg         ServerConfig
	handler     Handler
	log         *logging.Logger
	clients     map[string]*Client
	subscribers map[string]map[EventType]bool
	startedAt   time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	nextRequestID atomic.Uint32
	nextClientID  atomic.Uint64

	eventChan chan *Event
}

// Client is one connection.
type Client struct {
	mu           sync.Mutex
	ID           string
	conn         net.Conn
	Name         string
	Version      string
	Editor       bool
	ConnectedAt  time.Time
	LastActivity time.Time

	writeMu sync.Mutex
}

// IsEditor reports whether the client announced itself as an editor.
func (c *Client) IsEditor() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Editor
}

// ServerConfig configures the server.
type ServerConfig struct {
	SocketPath     string
	Version        string
	Permissions    os.FileMode
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Logger         *logging.Logger
}

// DefaultServerConfig derives the server settings from the daemon
// configuration.
func DefaultServerConfig(cfg *config.Config) ServerConfig {
	perm := os.FileMode(0o600)
	if p, err := strconv.ParseUint(cfg.IPC.Permissions, 8, 32); err == nil {
		perm = os.FileMode(p)
	}
	maxConns := cfg.IPC.MaxConnections
	if maxConns <= 0 {
		maxConns = 8
	}
	return ServerConfig{
		SocketPath:     cfg.IPC.SocketPath,
		Version:        "dev",
		Permissions:    perm,
		MaxConnections: maxConns,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// NewServer creates a stopped server.
func NewServer(cfg ServerConfig, handler Handler) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, errors.New("ipc: socket path is required")
	}
	if cfg.Permissions == 0 {
		cfg.Permissions = 0o600
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 8
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:         cfg,
		handler:     handler,
		log:         log.WithComponent("ipc"),
		clients:     make(map[string]*Client),
		subscribers: make(map[string]map[EventType]bool),
		ctx:         ctx,
		cancel:      cancel,
		eventChan:   make(chan *Event, 100),
	}, nil
}

// Start begins listening.
func (s *Server) Start() error {
	if s.ctx.Err() != nil {
		return ErrServerClosed
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if IsSocketListening(s.cfg.SocketPath) {
		return fmt.Errorf("another daemon is listening on %s", s.cfg.SocketPath)
	}
	if err := CleanupSocket(s.cfg.SocketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	if err := SetSocketPermissions(s.cfg.SocketPath, s.cfg.Permissions); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.listener = listener
	s.startedAt = time.Now()
	s.running.Store(true)

	s.wg.Add(2)
	go s.eventBroadcaster()
	go s.acceptLoop()

	s.log.Info("listening", "socket", s.cfg.SocketPath)
	return nil
}

// Stop closes the listener and every connection.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		s.cancel()
		return nil
	}

	if ev, err := NewEvent(EventDaemonShutdown, nil); err == nil {
		s.broadcastNow(ev)
	}

	s.cancel()
	s.listener.Close()

	s.mu.Lock()
	for _, client := range s.clients {
		client.conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("timed out waiting for connections to close")
	}

	os.Remove(s.cfg.SocketPath)
	return nil
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

// StartedAt returns the start time.
func (s *Server) StartedAt() time.Time {
	return s.startedAt
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast queues an event for subscribers. Events are dropped when the
// queue is full or the server is stopped. The queue is never closed, so a
// Broadcast racing Stop is safe.
func (s *Server) Broadcast(event *Event) {
	if !s.running.Load() {
		return
	}
	select {
	case <-s.ctx.Done():
	case s.eventChan <- event:
	default:
		s.log.Debug("event dropped", "type", event.Type)
	}
}

// Publish encodes data into an event of type t and broadcasts it.
func (s *Server) Publish(t EventType, data any) {
	ev, err := NewEvent(t, data)
	if err != nil {
		s.log.Warn("encode event", "type", t, "error", err)
		return
	}
	s.Broadcast(ev)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Debug("accept", "error", err)
			continue
		}

		if ok, err := VerifyPeerIsCurrentUser(conn); err == nil && !ok {
			s.log.Warn("rejected connection from another user")
			conn.Close()
			continue
		} else if err != nil && !errors.Is(err, ErrPeerCheckUnsupported) {
			s.log.Debug("peer credentials", "error", err)
		}

		s.mu.Lock()
		if len(s.clients) >= s.cfg.MaxConnections {
			s.mu.Unlock()
			s.log.Warn("connection limit reached", "max", s.cfg.MaxConnections)
			conn.Close()
			continue
		}
		now := time.Now()
		client := &Client{
			ID:           fmt.Sprintf("client-%d", s.nextClientID.Add(1)),
			conn:         conn,
			ConnectedAt:  now,
			LastActivity: now,
		}
		s.clients[client.ID] = client
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(client)
	}
}

func (s *Server) handleConnection(client *Client) {
	log := s.log.WithClient(client.ID, "")
	defer s.wg.Done()
	defer log.Recover("ipc connection")
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		delete(s.subscribers, client.ID)
		s.mu.Unlock()
		client.conn.Close()
		if dh, ok := s.handler.(DisconnectHandler); ok {
			dh.ClientGone(client)
		}
		log.Debug("client disconnected")
	}()

	for {
		if s.ctx.Err() != nil {
			return
		}

		client.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		msg, err := ReadMessage(client.conn)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.sendPing(client)
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("read", "error", err)
			}
			return
		}

		client.mu.Lock()
		client.LastActivity = time.Now()
		client.mu.Unlock()

		response, err := s.processMessage(client, msg)
		if err != nil {
			response = NewErrorMessage(msg.Header.RequestID, ErrInternal, err.Error())
		}
		if response != nil {
			if err := s.sendMessage(client, response); err != nil {
				return
			}
		}
	}
}

func (s *Server) processMessage(client *Client, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, msg.Header.RequestID, nil), nil
	case MsgPong:
		return nil, nil
	case MsgHandshake:
		return s.handleHandshake(client, msg)
	case MsgSubscribe:
		return s.handleSubscribe(client, msg)
	case MsgUnsubscribe:
		s.mu.Lock()
		delete(s.subscribers, client.ID)
		s.mu.Unlock()
		return NewMessage(MsgUnsubscribeResp, msg.Header.RequestID, nil), nil
	}

	if s.handler == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "no handler"), nil
	}
	return s.handler.HandleMessage(s.ctx, client, msg)
}

func (s *Server) handleHandshake(client *Client, msg *Message) (*Message, error) {
	var req HandshakeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid handshake"), nil
	}
	if req.ProtocolVersion > ProtocolVersion {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unsupported protocol version %d", req.ProtocolVersion)), nil
	}

	client.mu.Lock()
	client.Name = req.ClientName
	client.Version = req.ClientVersion
	client.Editor = req.Editor
	client.mu.Unlock()

	s.log.WithClient(client.ID, req.ClientName).Debug("handshake", "version", req.ClientVersion, "editor", req.Editor)
	return NewResponse(MsgHandshakeAck, msg.Header.RequestID, &HandshakeResponse{
		ServerVersion:   s.cfg.Version,
		ProtocolVersion: ProtocolVersion,
		SessionID:       client.ID,
	})
}

func (s *Server) handleSubscribe(client *Client, msg *Message) (*Message, error) {
	var req SubscribeRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid subscribe request"), nil
		}
	}
	events := req.Events
	if len(events) == 0 {
		events = AllEvents
	}
	set := make(map[EventType]bool, len(events))
	for _, et := range events {
		set[et] = true
	}

	s.mu.Lock()
	s.subscribers[client.ID] = set
	s.mu.Unlock()

	return NewResponse(MsgSubscribeResp, msg.Header.RequestID, &SubscribeResponse{
		Success:        true,
		SubscriptionID: client.ID,
	})
}

func (s *Server) eventBroadcaster() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.eventChan:
			s.broadcastNow(event)
		}
	}
}

func (s *Server) broadcastNow(event *Event) {
	payload, err := Encode(event)
	if err != nil {
		s.log.Warn("encode event", "error", err)
		return
	}

	s.mu.RLock()
	var targets []*Client
	for id, set := range s.subscribers {
		if set[event.Type] {
			if client, ok := s.clients[id]; ok {
				targets = append(targets, client)
			}
		}
	}
	s.mu.RUnlock()

	for _, client := range targets {
		msg := NewMessage(MsgEvent, s.nextRequestID.Add(1), payload)
		if err := s.sendMessage(client, msg); err != nil {
			s.log.Debug("send event", "client", client.ID, "error", err)
		}
	}
}

func (s *Server) sendMessage(client *Client, msg *Message) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return msg.Write(client.conn)
}

func (s *Server) sendPing(client *Client) {
	s.sendMessage(client, NewMessage(MsgPing, s.nextRequestID.Add(1), nil))
}
