package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var (
	ErrSendQueueFull = errors.New("send queue full")
	ErrClientClosed  = errors.New("client closed")
)

// Handler receives decoded envelopes. Handlers for one client run on that
// client's reader goroutine, in arrival order.
type Handler func(ctx context.Context, client *Client, env Envelope)

// Options tunes per-client behaviour.
type Options struct {
	SendQueue    int
	Rate         rate.Limit
	Burst        int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendQueue <= 0 {
		o.SendQueue = 32
	}
	if o.Rate <= 0 {
		o.Rate = 60
	}
	if o.Burst <= 0 {
		o.Burst = 10
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

type Server struct {
	path     string
	logger   *log.Logger
	opts     Options
	upgrader websocket.Upgrader
	seq      atomic.Uint64
	listener net.Listener

	mu       sync.RWMutex
	handlers map[MessageType][]Handler

	clientsMu sync.RWMutex
	clients   map[string]*Client
}

// NewServer builds a websocket server that serves path. Use Handler to mount
// it or Listen to bind it to an address.
func NewServer(path string, logger *log.Logger, opts Options) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "network ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Server{
		path:   path,
		logger: logger,
		opts:   opts.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		handlers: make(map[MessageType][]Handler),
		clients:  make(map[string]*Client),
	}
}

// Listen binds a new server to listenAddr.
func Listen(listenAddr, path string, logger *log.Logger, opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp: %w", err)
	}
	s := NewServer(path, logger, opts)
	s.listener = ln
	return s, nil
}

// Addr reports the bound address, or nil when the server was not created by
// Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Register(msgType MessageType, handler Handler) {
	s.mu.Lock()
	s.handlers[msgType] = append(s.handlers[msgType], handler)
	s.mu.Unlock()
}

func (s *Server) handlersFor(msgType MessageType) []Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Handler(nil), s.handlers[msgType]...)
}

// Handler returns the HTTP handler that upgrades requests on the server path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.serveConn)
	return mux
}

// Serve accepts connections until ctx is cancelled, then disconnects every
// client.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("network server has no listener")
	}
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := httpServer.Shutdown(shutdownCtx)
	s.disconnectAll()
	if err != nil {
		return fmt.Errorf("shutdown websocket server: %w", err)
	}
	return ctx.Err()
}

func (s *Server) disconnectAll() {
	s.clientsMu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()
	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.close()
	}
}

// Clients returns the number of connected clients that completed the hello
// exchange.
func (s *Server) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Broadcast queues one message for every connected client and returns how
// many accepted it. Clients with a full queue miss the message.
func (s *Server) Broadcast(msgType MessageType, payload any) (int, error) {
	data, err := s.prepare(msgType, payload)
	if err != nil {
		return 0, err
	}
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	delivered := 0
	for _, c := range s.clients {
		if err := c.enqueue(data); err != nil {
			s.logger.Printf("client %s dropped %s: %v", c.ID, msgType, err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

func (s *Server) serveConn(rw http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		s.logger.Printf("upgrade %s: %v", r.RemoteAddr, err)
		return
	}
	client := &Client{
		ID:      uuid.NewString(),
		Remote:  r.RemoteAddr,
		server:  s,
		conn:    conn,
		out:     make(chan []byte, s.opts.SendQueue),
		limiter: rate.NewLimiter(s.opts.Rate, s.opts.Burst),
		done:    make(chan struct{}),
	}
	defer client.close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	msg, err := client.read()
	if err != nil {
		return
	}
	env, err := Decode(msg)
	if err != nil || env.Type != MessageHello {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected hello"),
			time.Now().Add(time.Second))
		return
	}

	s.clientsMu.Lock()
	s.clients[client.ID] = client
	s.clientsMu.Unlock()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client.ID)
		s.clientsMu.Unlock()
	}()
	s.logger.Printf("client %s connected from %s", client.ID, client.Remote)

	go client.writeLoop()
	s.dispatch(ctx, client, env)

	for {
		msg, err := client.read()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("client %s disconnected", client.ID)
			} else {
				s.logger.Printf("client %s disconnected: %v", client.ID, err)
			}
			return
		}
		env, err := Decode(msg)
		if err != nil {
			s.logger.Printf("decode message from %s: %v", client.ID, err)
			continue
		}
		if !client.limiter.Allow() {
			s.logger.Printf("client %s rate limited, dropping %s", client.ID, env.Type)
			continue
		}
		s.dispatch(ctx, client, env)
	}
}

func (s *Server) dispatch(ctx context.Context, client *Client, env Envelope) {
	for _, handler := range s.handlersFor(env.Type) {
		handler(ctx, client, env)
	}
}

func (s *Server) prepare(msgType MessageType, payload any) ([]byte, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	env := Envelope{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Seq:       s.seq.Add(1),
		Payload:   raw,
	}
	return Encode(env)
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte("null"), nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(payload)
	}
}

// Client is one websocket session.
type Client struct {
	ID     string
	Remote string

	server    *Server
	conn      *websocket.Conn
	out       chan []byte
	limiter   *rate.Limiter
	done      chan struct{}
	closeOnce sync.Once
}

// Send queues a message for this client without blocking.
func (c *Client) Send(msgType MessageType, payload any) error {
	data, err := c.server.prepare(msgType, payload)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

func (c *Client) enqueue(data []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSendQueueFull
	}
}

func (c *Client) read() ([]byte, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.server.opts.ReadTimeout))
	_, msg, err := c.conn.ReadMessage()
	return msg, err
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.server.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.server.logger.Printf("write to client %s: %v", c.ID, err)
				c.close()
				return
			}
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
