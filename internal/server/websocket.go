package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/SabrinaJewson/ghmd/internal/renderer"
	"github.com/SabrinaJewson/ghmd/internal/watcher"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to the peer with this period.
	pingPeriod = 54 * time.Second
)

// UpdateMessage is the JSON frame pushed to websocket clients. Type is one
// of update, rate_limited, or render_error, mirroring the event stream.
type UpdateMessage struct {
	Type      string    `json:"type"`
	Content   string    `json:"content,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Reset     int64     `json:"reset,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// client is one websocket connection with its outbound queue.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

func (s *PreviewServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), err, "websocket upgrade failed")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, 256),
	}

	go s.writePump(c)
	go s.readPump(c)

	s.register <- c
}

// runHub owns the client set and the render-once-broadcast-to-all loop.
// One subscription to the feed drives every websocket client, so a burst of
// edits costs one render regardless of the number of viewers.
func (s *PreviewServer) runHub(ctx context.Context) {
	go s.renderLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			s.closeAllClients()
			return

		case c := <-s.register:
			s.clientsMu.Lock()
			s.clients[c.conn] = c
			total := len(s.clients)
			s.clientsMu.Unlock()
			s.logger.Debug(ctx, "websocket client connected", "total", total)

		case conn := <-s.unregister:
			s.clientsMu.Lock()
			if c, ok := s.clients[conn]; ok {
				delete(s.clients, conn)
				close(c.send)
			}
			total := len(s.clients)
			s.clientsMu.Unlock()
			s.logger.Debug(ctx, "websocket client disconnected", "total", total)

		case message := <-s.broadcast:
			s.clientsMu.RLock()
			var stalled []*websocket.Conn
			for conn, c := range s.clients {
				select {
				case c.send <- message:
				default:
					// Queue full: the client is not keeping up, drop it.
					stalled = append(stalled, conn)
				}
			}
			s.clientsMu.RUnlock()

			if len(stalled) > 0 {
				s.clientsMu.Lock()
				for _, conn := range stalled {
					if c, ok := s.clients[conn]; ok {
						delete(s.clients, conn)
						close(c.send)
						conn.Close(websocket.StatusPolicyViolation, "client too slow")
					}
				}
				s.clientsMu.Unlock()
			}
		}
	}
}

// renderLoop watches the feed and broadcasts one message per state change.
func (s *PreviewServer) renderLoop(ctx context.Context) {
	sub := s.feed.Subscribe()
	for sub.Changed(ctx) {
		message, err := json.Marshal(s.messageFor(ctx, sub.Latest()))
		if err != nil {
			s.logger.Warn(ctx, err, "failed to encode update message")
			continue
		}
		select {
		case s.broadcast <- message:
		case <-ctx.Done():
			return
		}
	}
}

func (s *PreviewServer) messageFor(ctx context.Context, state watcher.State) UpdateMessage {
	now := time.Now()
	if state.Err != nil {
		return UpdateMessage{Type: "render_error", Content: state.Err.Error(), Timestamp: now}
	}

	rendered, err := s.renderer.Render(ctx, state.Content)
	if err != nil {
		var rateLimited *renderer.RateLimitError
		if errors.As(err, &rateLimited) {
			return UpdateMessage{
				Type:      "rate_limited",
				Limit:     rateLimited.Limit,
				Reset:     rateLimited.Reset.Unix(),
				Timestamp: now,
			}
		}
		return UpdateMessage{Type: "render_error", Content: err.Error(), Timestamp: now}
	}

	return UpdateMessage{Type: "update", Content: rendered, Timestamp: now}
}

func (s *PreviewServer) closeAllClients() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for conn, c := range s.clients {
		close(c.send)
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	s.clients = make(map[*websocket.Conn]*client)
}

// readPump drains inbound frames until the connection drops; clients are
// not expected to send anything.
func (s *PreviewServer) readPump(c *client) {
	defer func() {
		select {
		case s.unregister <- c.conn:
		case <-s.streamCtx.Done():
		}
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := context.Background()
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				s.logger.Debug(ctx, "websocket read ended", "error", err)
			}
			return
		}
	}
}

// writePump pushes queued messages and periodic pings to the peer.
func (s *PreviewServer) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := context.Background()
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
