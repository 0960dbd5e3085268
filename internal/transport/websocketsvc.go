package transport

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/ichor-go/internal/async"
	"github.com/tomtom215/ichor-go/internal/logging"
	"github.com/tomtom215/ichor-go/internal/service"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 512 * 1024
)

// WSMessage is one JSON frame broadcast to connected clients.
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

var wsClientIDCounter atomic.Uint64

// wsClient is a middleman between one upgraded connection and the hub,
// grounded on the teacher's websocket.Client.
type wsClient struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan WSMessage
}

func newWSClient(hub *Hub, conn *websocket.Conn) *wsClient {
	return &wsClient{
		id:   wsClientIDCounter.Add(1),
		hub:  hub,
		conn: conn,
		send: make(chan WSMessage, 256),
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := gojson.Marshal(msg)
			if err != nil {
				logging.Error().Err(err).Msg("failed to marshal websocket message")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub maintains the set of connected clients and broadcasts dispatched
// events to them, adapted from the teacher's websocket.Hub: registration,
// unregistration and broadcast traffic share one select loop, so none of
// them takes priority over the others, and broadcast order is sorted by
// client id for determinism.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan WSMessage
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		broadcast:  make(chan WSMessage, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		clients:    make(map[*wsClient]bool),
	}
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		}
	}
}

func (h *Hub) broadcastToClients(msg WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var dead []*wsClient
	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	for _, c := range clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast enqueues msg for delivery to every connected client,
// dropping it if the broadcast buffer is full rather than blocking the
// caller.
func (h *Hub) Broadcast(msgType string, data any) {
	select {
	case h.broadcast <- WSMessage{Type: msgType, Data: data}:
	default:
		logging.Warn().Str("message_type", msgType).Msg("websocket broadcast buffer full, dropping message")
	}
}

// WebSocketService is the WebSocket connection external collaborator
// (§6.4): it upgrades inbound HTTP connections to WebSocket and broadcasts
// outward to them, fronted by a dedicated net/http.Server since gorilla's
// Upgrader has no meaning without one.
type WebSocketService struct {
	service.BaseService
	hub      *Hub
	addr     string
	path     string
	server   *http.Server
	upgrader websocket.Upgrader
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewWebSocketService builds a WebSocketService listening on addr and
// serving upgrades at path.
func NewWebSocketService(addr, path string) *WebSocketService {
	return &WebSocketService{
		BaseService: service.NewBaseService(0),
		hub:         newHub(),
		addr:        addr,
		path:        path,
		upgrader:    websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

// Broadcast forwards to the underlying hub.
func (s *WebSocketService) Broadcast(msgType string, data any) { s.hub.Broadcast(msgType, data) }

// ClientCount forwards to the underlying hub.
func (s *WebSocketService) ClientCount() int { return s.hub.ClientCount() }

func (s *WebSocketService) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := newWSClient(s.hub, conn)
	s.hub.register <- client
	go client.writePump()
	go client.readPump()
}

// Start launches the hub's run loop and the upgrade listener in the
// background and returns without waiting for the listener to bind; a
// listen error is logged, not returned.
func (s *WebSocketService) Start(ctx context.Context) *async.Generator[service.StartBehaviour] {
	return async.New(func(ctx context.Context, yield async.Yield[service.StartBehaviour]) error {
		hubCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel

		mux := http.NewServeMux()
		mux.HandleFunc(s.path, s.handleUpgrade)
		s.server = &http.Server{Addr: s.addr, Handler: mux}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.hub.run(hubCtx)
		}()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error().Err(err).Msg("websocket listener stopped unexpectedly")
			}
		}()

		return nil
	})
}

// Stop shuts the HTTP listener down gracefully, then stops the hub.
func (s *WebSocketService) Stop(ctx context.Context) *async.Generator[service.StartBehaviour] {
	return async.New(func(ctx context.Context, yield async.Yield[service.StartBehaviour]) error {
		if s.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.server.Shutdown(shutdownCtx)
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		return nil
	})
}
