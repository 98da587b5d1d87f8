// Package dashboard provides a real-time WebSocket feed of core events for UI
// collaborators.
//
// Every event published on the bus is forwarded to connected clients as a
// JSON message whose type is the event topic. Reminder notifications are
// forwarded as "notification" messages.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/mschirtzinger/flowsync/internal/sync/events"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	MessageTypeHello           MessageType = "hello"
	MessageTypeDataUpdated     MessageType = MessageType(events.TopicDataUpdated)
	MessageTypeReminderFired   MessageType = MessageType(events.TopicReminderFired)
	MessageTypeSyncStatus      MessageType = MessageType(events.TopicSyncStatus)
	MessageTypeIdentityChanged MessageType = MessageType(events.TopicIdentityChanged)
	MessageTypeShareUpdated    MessageType = MessageType(events.TopicShareUpdated)
	MessageTypeNotification    MessageType = "notification"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatusFunc reports the current mirror status.
type StatusFunc func() events.SyncStatus

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	status   StatusFunc

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  bool

	logger zerolog.Logger
}

// Config holds server configuration
type Config struct {
	// Host to bind (default: all interfaces)
	Host string

	// Port to listen on; 0 picks a free port
	Port int

	// Status backs the syncActive field of /health (optional)
	Status StatusFunc

	Logger zerolog.Logger
}

// NewServer creates a new dashboard WebSocket server
func NewServer(cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		status:    cfg.Status,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    cfg.Logger.With().Str("component", "dashboard").Logger(),
	}
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.started = true

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("dashboard listening")
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("dashboard server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the server. Safe to call more than once.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.cancel()

		s.clientsMu.Lock()
		for conn := range s.clients {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			delete(s.clients, conn)
		}
		s.clientsMu.Unlock()

		if !s.started {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("server shutdown error: %w", shutdownErr)
			return
		}
		s.wg.Wait()
		s.logger.Info().Msg("dashboard stopped")
	})
	return err
}

// Broadcast queues a message for every connected client. Messages are dropped
// when the queue is full or the server is stopped.
func (s *Server) Broadcast(msg Message) {
	select {
	case <-s.ctx.Done():
		return
	default:
	}

	select {
	case s.broadcast <- msg:
	default:
		s.logger.Warn().Str("type", string(msg.Type)).Msg("broadcast queue full, dropping message")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error().Err(err).Msg("failed to marshal message")
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Debug().Err(err).Msg("failed to send to client")
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	// The hello message is written before the client is registered so it is
	// always the first message a client reads.
	hello, _ := json.Marshal(Message{
		Type:      MessageTypeHello,
		Timestamp: time.Now(),
		Data:      s.statusJSON(),
	})
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	err = conn.Write(ctx, websocket.MessageText, hello)
	cancel()
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Debug().Int("clients", clientCount).Msg("client connected")

	go s.readLoop(conn)
}

// readLoop keeps the connection alive until the client goes away.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Debug().Int("clients", clientCount).Msg("client disconnected")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	syncActive := false
	if s.status != nil {
		syncActive = s.status().Active
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     "ok",
		"clients":    s.ClientCount(),
		"syncActive": syncActive,
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>flowsync</title>
</head>
<body>
    <h1>flowsync event feed</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

func (s *Server) statusJSON() json.RawMessage {
	if s.status == nil {
		return nil
	}
	data, err := json.Marshal(s.status())
	if err != nil {
		return nil
	}
	return data
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
