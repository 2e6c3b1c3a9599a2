// Package stream publishes completed fill records to WebSocket
// subscribers.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"liquidity-router/internal/domain"
)

// BroadcasterConfig configures subscriber connection handling.
type BroadcasterConfig struct {
	// WriteTimeout is timeout for writing a fill to one subscriber.
	WriteTimeout time.Duration
	// SendBuffer is the per-subscriber queue size. A subscriber that
	// falls this far behind is dropped.
	SendBuffer int
}

// DefaultBroadcasterConfig returns default broadcaster configuration.
func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		WriteTimeout: 10 * time.Second,
		SendBuffer:   64,
	}
}

// Broadcaster fans completed fills out to WebSocket subscribers. It
// implements the router's FillSink.
type Broadcaster struct {
	config   BroadcasterConfig
	logger   *zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// NewBroadcaster creates a broadcaster with the given configuration.
func NewBroadcaster(config *BroadcasterConfig, logger *zerolog.Logger) *Broadcaster {
	cfg := DefaultBroadcasterConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Broadcaster{
		config:  cfg,
		logger:  logger,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request to a WebSocket subscription. The
// connection receives one JSON-encoded fill record per message until
// the client disconnects or falls too far behind.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, b.config.SendBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.clients[c] = struct{}{}
	b.mu.Unlock()

	go b.writeLoop(c)
	b.readLoop(c)
}

// Publish queues a fill record for every connected subscriber.
// Implements router.FillSink. Never blocks the routing path.
func (b *Broadcaster) Publish(f *domain.FillRecord) {
	data, err := json.Marshal(f)
	if err != nil {
		b.logger.Error().Err(err).Str("fill_id", f.FillID).Msg("failed to encode fill record")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			// Subscriber is not keeping up. Drop it rather than stall.
			b.removeLocked(c)
			b.logger.Warn().Msg("dropping slow fill feed subscriber")
		}
	}
}

// Close disconnects all subscribers and rejects new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for c := range b.clients {
		b.removeLocked(c)
	}
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *Broadcaster) writeLoop(c *client) {
	defer c.conn.Close()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(b.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				b.remove(c)
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(b.config.WriteTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

// readLoop drains the connection so close frames and errors are seen.
func (b *Broadcaster) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			b.remove(c)
			return
		}
	}
}

func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(c)
}

func (b *Broadcaster) removeLocked(c *client) {
	if _, ok := b.clients[c]; !ok {
		return
	}
	delete(b.clients, c)
	close(c.done)
}
