// Package relay implements the reference channel relay: a websocket hub
// that fans published messages out to channel subscribers, stamps them
// with the server clock, and owns the authoritative reaction counters.
package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/driftchat/drift/internal/channel"
	"github.com/driftchat/drift/internal/logging"
	"github.com/driftchat/drift/internal/model"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

// Server is the relay hub. Zero value is not usable; call NewServer.
type Server struct {
	upgrader websocket.Upgrader
	now      func() time.Time
	logger   zerolog.Logger

	mu       sync.RWMutex
	clients  map[*client]struct{}
	counters map[string]*counter // channel + "/" + message id

	httpSrv *http.Server
}

type counter struct {
	reactions model.Reactions
	version   int64
}

// client is one websocket connection. Frames to deliver are queued on
// send; a slow client that fills its queue is dropped. The mutex guards
// send against close so concurrent broadcasts never hit a closed channel.
type client struct {
	conn *websocket.Conn
	send chan channel.Frame

	mu       sync.Mutex
	closed   bool
	channels map[string]struct{}
}

func (c *client) subscribe(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channelID] = struct{}{}
}

func (c *client) subscribed(channelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channelID]
	return ok
}

// enqueue queues a frame for delivery. Reports false when the client is
// already closed or its queue is full.
func (c *client) enqueue(frame channel.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close shuts the send queue exactly once. Must not be called while
// holding c.mu elsewhere.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Option configures a Server.
type Option func(*Server)

// WithNow overrides the clock used for server timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer creates a relay hub.
func NewServer(opts ...Option) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now:      time.Now,
		logger:   logging.Component("relay"),
		clients:  make(map[*client]struct{}),
		counters: make(map[string]*counter),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the websocket endpoint.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveWS)
}

// ListenAndServe runs the relay on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.Handler())

	s.httpSrv = &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("relay listening")

	errC := make(chan error, 1)
	go func() {
		errC <- s.httpSrv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		conn:     conn,
		send:     make(chan channel.Frame, sendBufferSize),
		channels: make(map[string]struct{}),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	go s.writePump(c)
	s.readPump(c)
}

func (s *Server) readPump(c *client) {
	defer s.drop(c)

	for {
		var frame channel.Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}
		s.handle(c, frame)
	}
}

func (s *Server) writePump(c *client) {
	for frame := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(frame); err != nil {
			return
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()

	c.close()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (s *Server) handle(c *client, frame channel.Frame) {
	switch frame.Type {
	case channel.FrameSubscribe:
		if frame.Channel == "" {
			return
		}
		c.subscribe(frame.Channel)

	case channel.FramePublish:
		if frame.Channel == "" || frame.Message == nil || frame.Message.ID == "" {
			return
		}
		evt := *frame.Message
		stamp := s.now()
		evt.ServerTimestamp = &stamp
		s.broadcast(frame.Channel, channel.Frame{
			Type:    channel.FrameMessage,
			Channel: frame.Channel,
			Message: &evt,
		})

	case channel.FrameReact:
		if frame.Channel == "" || frame.MessageID == "" || !frame.Direction.Valid() {
			return
		}
		evt := s.bumpReaction(frame.Channel, frame.MessageID, frame.Direction)
		s.broadcast(frame.Channel, channel.Frame{
			Type:     channel.FrameReaction,
			Channel:  frame.Channel,
			Reaction: &evt,
		})

	default:
		s.logger.Debug().Str("type", frame.Type).Msg("ignoring unknown frame type")
	}
}

func (s *Server) bumpReaction(channelID, messageID string, direction model.Direction) channel.ReactionEvent {
	key := channelID + "/" + messageID

	s.mu.Lock()
	defer s.mu.Unlock()

	cnt := s.counters[key]
	if cnt == nil {
		cnt = &counter{}
		s.counters[key] = cnt
	}
	cnt.reactions = cnt.reactions.Add(direction)
	cnt.version++
	return channel.ReactionEvent{
		MessageID: messageID,
		Reactions: cnt.reactions,
		Version:   cnt.version,
	}
}

// broadcast queues the frame for every client subscribed to the channel,
// the sender included. Clients with a full queue are dropped.
func (s *Server) broadcast(channelID string, frame channel.Frame) {
	s.mu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		if c.subscribed(channelID) {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(frame) {
			s.logger.Warn().Msg("dropping slow client")
			s.drop(c)
		}
	}
}
