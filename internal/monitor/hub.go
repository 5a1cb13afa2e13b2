// Package monitor serves a live feed of dispatched requests over
// WebSocket, so a browser or test harness can watch the simulated bus.
package monitor

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tturner/ecusim/internal/logging"
	"github.com/tturner/ecusim/internal/sim"
)

// Event is one dispatched request/response pair as sent to clients.
type Event struct {
	Front    string `json:"front"`
	Ecu      string `json:"ecu"`
	Request  string `json:"request"`
	Response string `json:"response,omitempty"`
	Stamp    int64  `json:"stamp"` // Unix ms
}

// Hub broadcasts dispatch events to all connected WebSocket clients.
type Hub struct {
	logger *logging.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub returns a hub with no clients.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start serves the /ws endpoint on addr.
func (h *Hub) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	h.listener = listener
	h.server = &http.Server{Handler: mux}

	go func() {
		if err := h.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			h.logger.Error("monitor server: %v", err)
		}
	}()
	h.logger.Info("Monitor listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound address after Start.
func (h *Hub) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop closes the server and all client connections.
func (h *Hub) Stop() {
	if h.server != nil {
		h.server.Close()
	}
	h.clientsMu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.clientsMu.Unlock()
}

// Dispatch broadcasts one request/response pair. Front is the protocol
// name ("UDS", "DoIP", "J1939").
func (h *Hub) Dispatch(front, ecu string, request, response []byte) {
	event := Event{
		Front:    front,
		Ecu:      ecu,
		Request:  sim.BytesToHex(request),
		Response: sim.BytesToHex(response),
		Stamp:    time.Now().UnixMilli(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// slow client, drop the event
		}
	}
}

// Sink adapts the hub to the dispatchers' OnDispatch hooks for one
// front.
func (h *Hub) Sink(front string) func(ecu string, request, response []byte) {
	return func(ecu string, request, response []byte) {
		h.Dispatch(front, ecu, request, response)
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("monitor upgrade: %v", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64)}
	h.clientsMu.Lock()
	h.clients[client] = struct{}{}
	h.clientsMu.Unlock()

	go h.writeLoop(client)
	go h.readLoop(client)
}

func (h *Hub) writeLoop(c *wsClient) {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			break
		}
	}
	c.conn.Close()
}

// readLoop drains client frames so pings are answered; any read error
// drops the client.
func (h *Hub) readLoop(c *wsClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.clientsMu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.clientsMu.Unlock()
	c.conn.Close()
}
