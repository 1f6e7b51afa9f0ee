package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JeffJna/instant-meeting-insights/internal/events"
	"github.com/JeffJna/instant-meeting-insights/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API binds to localhost by default and serves local clients.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventHub tracks WebSocket clients. Each client has its own bus
// subscription, so a slow client only loses its own events.
type eventHub struct {
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[*eventClient]struct{}
}

type eventClient struct {
	conn   *websocket.Conn
	sub    *events.Subscription
	cancel context.CancelFunc
}

func newEventHub(bus *events.Bus, m *metrics.Metrics, logger *slog.Logger) *eventHub {
	return &eventHub{
		bus:     bus,
		metrics: m,
		logger:  logger,
		clients: make(map[*eventClient]struct{}),
	}
}

func (h *eventHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *eventHub) register(c *eventClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetEventClients(n)
	h.logger.Debug("Event client connected", slog.Int("clients", n))
}

func (h *eventHub) unregister(c *eventClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetEventClients(n)
	h.logger.Debug("Event client disconnected",
		slog.Int("clients", n),
		slog.Uint64("dropped", c.sub.Dropped()),
	)
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	clients := make([]*eventClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.cancel()
	}
}

// parseTypes reads ?types=a,b into a filter. Empty means every type.
func parseTypes(r *http.Request) []events.EventType {
	raw := r.URL.Query().Get("types")
	if raw == "" {
		return nil
	}
	var types []events.EventType
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, events.EventType(t))
		}
	}
	return types
}

// serveWS upgrades the request and streams bus events as JSON text
// messages until either side goes away.
func (h *eventHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	replay := r.URL.Query().Get("replay") == "true"
	c := &eventClient{
		conn:   conn,
		sub:    h.bus.Subscribe(ctx, replay, parseTypes(r)...),
		cancel: cancel,
	}
	h.register(c)

	go c.readPump(h)
	go c.writePump(ctx, h)
}

// readPump discards client messages and watches for pongs and close frames.
func (c *eventClient) readPump(h *eventHub) {
	defer c.cancel()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Event client read error", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (c *eventClient) writePump(ctx context.Context, h *eventHub) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.sub.Close()
		h.unregister(c)
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
			return

		case e, ok := <-c.sub.C:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "event bus closed"))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(e); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
