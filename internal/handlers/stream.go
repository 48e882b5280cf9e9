package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/abuccarelli/Unicorn1/pkg/logger"
)

// StreamHub pushes change events to connected clients over websockets. Events
// carry only the area that changed; clients refetch through the REST surface.
type StreamHub struct {
	mu      sync.Mutex
	clients map[chan string]struct{}
}

var Stream = &StreamHub{clients: make(map[chan string]struct{})}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The agent binds to loopback for its own user; origin checks add nothing.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Broadcast queues an event for every connected client. Slow clients drop
// events rather than block the engines; the next event resyncs them.
func (h *StreamHub) Broadcast(event string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *StreamHub) register() chan string {
	ch := make(chan string, 16)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *StreamHub) unregister(ch chan string) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// StreamHandler GET /ws
func StreamHandler(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	events := Stream.register()
	defer Stream.unregister(events)

	// Reader drains control frames and detects the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case event := <-events:
			if err := conn.WriteJSON(gin.H{"event": event}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
