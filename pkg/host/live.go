package host

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const liveWriteTimeout = 5 * time.Second

// liveHub pushes counter changes to connected pages.
type liveHub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*liveClient]struct{}
}

// liveClient owns one connection. Its writer goroutine is the only one
// writing data frames; send holds at most the latest unsent value.
type liveClient struct {
	conn *websocket.Conn
	send chan int
	done chan struct{}
}

func newLiveHub(logger *zap.Logger) *liveHub {
	return &liveHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  logger,
		clients: make(map[*liveClient]struct{}),
	}
}

// push queues count, replacing a value the writer has not picked up yet.
// Callers hold h.mu, so there is a single sender per client.
func (c *liveClient) push(count int) {
	select {
	case c.send <- count:
		return
	default:
	}
	select {
	case <-c.send:
	default:
	}
	c.send <- count
}

// broadcast queues count for every client and never waits on the network.
func (h *liveHub) broadcast(count int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.push(count)
	}
}

func (h *liveHub) writeLoop(c *liveClient) {
	for {
		select {
		case <-c.done:
			return
		case count := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := c.conn.WriteJSON(countResponse{Count: count}); err != nil {
				h.logger.Debug("Dropping live client", zap.Error(err))
				h.remove(c)
				return
			}
		}
	}
}

// add registers conn with the current value queued first. Reading the value
// under mu means no change can slip between the two.
func (h *liveHub) add(conn *websocket.Conn, current func() int) *liveClient {
	c := &liveClient{
		conn: conn,
		send: make(chan int, 1),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	c.send <- current()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	return c
}

func (h *liveHub) remove(c *liveClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.done)
		c.conn.Close()
	}
}

func (h *liveHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		close(c.done)
		c.conn.Close()
	}
	h.clients = make(map[*liveClient]struct{})
}

func (a *App) handleLive(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.Server.RenderTimeout.Std())
	counter, err := a.counterStore(ctx)
	cancel()
	if err != nil {
		http.Error(w, fallbackText(StoreRef, err), http.StatusServiceUnavailable)
		return
	}

	conn, err := a.live.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	client := a.live.add(conn, counter.Get)

	// The page never sends; reading only detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			a.live.remove(client)
			return
		}
	}
}
