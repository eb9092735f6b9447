package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/device-ledger/internal/infrastructure/config"
	"github.com/nerrad567/device-ledger/internal/infrastructure/logging"
	"github.com/nerrad567/device-ledger/internal/ledger"
)

// Message types on the event stream.
const (
	WSTypeWelcome     = "welcome"
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// ChannelStateChanged carries every committed ledger.StateChange.
	ChannelStateChanged = "device.state_changed"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// streamChannels lists the channels a client may subscribe to.
var streamChannels = []string{ChannelStateChanged}

// WSMessage is a frame sent to a client. Clients send the same shape.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
//
// Devices narrows a subscription to events for the listed devices; empty
// means every device. Subscribing to a channel again replaces its device
// filter. Unsubscribe ignores Devices and drops the whole channel.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Devices  []string `json:"devices,omitempty"`
}

// wsRequest is a decoded client frame; the payload is parsed per type.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// deviceFilter is the set of devices a client follows on one channel.
// A nil filter follows every device.
type deviceFilter map[ledger.Principal]struct{}

func (f deviceFilter) matches(device ledger.Principal) bool {
	if f == nil {
		return true
	}
	_, ok := f[device]
	return ok
}

// Hub tracks connected stream clients and fans ledger events out to them.
// It implements ledger.EventSink.
type Hub struct {
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	channels map[string]struct{}

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected stream client.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	caller ledger.Principal

	// mu guards send against use after close, and subscriptions.
	mu            sync.Mutex
	send          chan []byte
	closed        bool
	subscriptions map[string]deviceFilter
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a hub serving the ledger's stream channels.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	channels := make(map[string]struct{}, len(streamChannels))
	for _, ch := range streamChannels {
		channels[ch] = struct{}{}
	}
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		channels: channels,
		clients:  make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Channels returns the subscribable channel names, sorted.
func (h *Hub) Channels() []string {
	names := make([]string, 0, len(h.channels))
	for ch := range h.channels {
		names = append(names, ch)
	}
	slices.Sort(names)
	return names
}

// unknownChannels returns the names in requested the hub does not serve.
func (h *Hub) unknownChannels(requested []string) []string {
	var unknown []string
	for _, ch := range requested {
		if _, ok := h.channels[ch]; !ok {
			unknown = append(unknown, ch)
		}
	}
	return unknown
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("stream client connected", "caller", client.caller, "clients", n)
}

// Unregister removes a client and closes its send channel. Safe to call
// more than once.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	client.close()
	h.logger.Debug("stream client disconnected", "caller", client.caller, "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for client := range clients {
		client.close()
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// Name implements ledger.EventSink.
func (h *Hub) Name() string {
	return "websocket"
}

// PublishStateChange implements ledger.EventSink. The event goes to every
// client subscribed to ChannelStateChanged whose device filter admits
// ev.Device. Clients with a full buffer miss the event; the journal keeps it.
func (h *Hub) PublishStateChange(_ context.Context, ev ledger.StateChange) error {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		ID:        strconv.FormatInt(ev.Seq, 10),
		EventType: ChannelStateChanged,
		Timestamp: ev.RecordedAt.UTC().Format(time.RFC3339Nano),
		Payload:   ev,
	})
	if err != nil {
		return fmt.Errorf("encoding stream event: %w", err)
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var sent, dropped int
	for _, client := range clients {
		if !client.wants(ChannelStateChanged, ev.Device) {
			continue
		}
		if client.deliver(data) {
			sent++
		} else {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("stream event dropped for slow clients", "seq", ev.Seq, "dropped", dropped)
	}
	if sent > 0 {
		h.logger.Debug("stream event sent", "seq", ev.Seq, "recipients", sent)
	}
	return nil
}

// handleWebSocket upgrades an authenticated request to an event stream.
// Browsers cannot set headers on the upgrade request, so the bearer token is
// passed as the token query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeUnauthorized(w, "token query parameter is required")
		return
	}
	caller, err := s.authenticate(token)
	if err != nil {
		writeUnauthorized(w, "invalid or expired token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn, caller)
	s.hub.Register(client)
	client.sendResponse("", WSTypeWelcome, map[string]any{
		"caller":   caller,
		"channels": s.hub.Channels(),
	})

	go client.writePump()
	go client.readPump()
}

func newWSClient(hub *Hub, conn *websocket.Conn, caller ledger.Principal) *WSClient {
	return &WSClient{
		hub:           hub,
		conn:          conn,
		caller:        caller,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]deviceFilter),
	}
}

// streamTimings converts the websocket config into keepalive durations.
func streamTimings(cfg config.WebSocketConfig) (pingInterval, pongWait time.Duration) {
	return time.Duration(cfg.PingInterval) * time.Second, time.Duration(cfg.PongTimeout) * time.Second
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	pingInterval, pongWait := streamTimings(c.hub.cfg)
	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	}

	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("stream read error", "caller", c.caller, "error", err)
			}
			return
		}
		// Application frames count as liveness too.
		extend() //nolint:errcheck // a failed deadline surfaces on the next read
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump() {
	pingInterval, pongWait := streamTimings(c.hub.cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(messageType int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(pongWait)) //nolint:errcheck // write error caught below
		return c.conn.WriteMessage(messageType, data)
	}

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // connection is going away
				return
			}
			if err := write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one client frame.
func (c *WSClient) handleMessage(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(req)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(req)
	case WSTypePing:
		c.sendResponse(req.ID, WSTypePong, nil)
	default:
		c.sendError(req.ID, "unknown message type: "+req.Type)
	}
}

func (c *WSClient) handleSubscribe(req wsRequest) {
	sub, ok := c.parseChannels(req)
	if !ok {
		return
	}
	filter, err := parseDeviceFilter(sub.Devices)
	if err != nil {
		c.sendError(req.ID, err.Error())
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		c.subscriptions[ch] = filter
	}
	c.mu.Unlock()

	c.hub.logger.Info("stream client subscribed", "caller", c.caller, "channels", sub.Channels, "devices", sub.Devices)
	c.sendResponse(req.ID, WSTypeResponse, map[string]any{
		"subscribed": sub.Channels,
		"devices":    sub.Devices,
	})
}

func (c *WSClient) handleUnsubscribe(req wsRequest) {
	sub, ok := c.parseChannels(req)
	if !ok {
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.sendResponse(req.ID, WSTypeResponse, map[string]any{
		"unsubscribed": sub.Channels,
	})
}

// parseChannels decodes a subscribe or unsubscribe payload and checks every
// channel against the hub. On failure it replies with an error and changes
// nothing.
func (c *WSClient) parseChannels(req wsRequest) (WSSubscribePayload, bool) {
	var sub WSSubscribePayload
	if len(req.Payload) == 0 || json.Unmarshal(req.Payload, &sub) != nil {
		c.sendError(req.ID, "invalid "+req.Type+" payload")
		return sub, false
	}
	if len(sub.Channels) == 0 {
		c.sendError(req.ID, "channels is required")
		return sub, false
	}
	if unknown := c.hub.unknownChannels(sub.Channels); len(unknown) > 0 {
		c.sendError(req.ID, fmt.Sprintf("unknown channels: %s (available: %s)",
			strings.Join(unknown, ", "), strings.Join(c.hub.Channels(), ", ")))
		return sub, false
	}
	return sub, true
}

func parseDeviceFilter(devices []string) (deviceFilter, error) {
	if len(devices) == 0 {
		return nil, nil
	}
	filter := make(deviceFilter, len(devices))
	for _, d := range devices {
		id, err := ledger.ParsePrincipal(d)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", d, err)
		}
		filter[id] = struct{}{}
	}
	return filter, nil
}

func (c *WSClient) wants(channel string, device ledger.Principal) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	filter, ok := c.subscriptions[channel]
	return ok && filter.matches(device)
}

// deliver queues data without blocking. It reports false when the client
// is closed or its buffer is full.
func (c *WSClient) deliver(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.deliver(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
