package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/driftchat/drift/internal/logging"
	"github.com/driftchat/drift/internal/model"
)

const handshakeTimeout = 15 * time.Second

// WSFeed implements Feed over a single websocket connection to a relay.
// Frames are JSON; one connection multiplexes any number of channels.
type WSFeed struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu       sync.RWMutex
	messages map[string]map[string]MessageHandler
	reacts   map[string]map[string]ReactionHandler
	closed   bool

	done   chan struct{}
	logger zerolog.Logger
}

// DialFeed connects to a relay at url (ws:// or wss://) and starts the
// read loop. Close releases the connection.
func DialFeed(ctx context.Context, url string) (*WSFeed, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial relay %s: status=%d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}

	f := &WSFeed{
		conn:     conn,
		messages: make(map[string]map[string]MessageHandler),
		reacts:   make(map[string]map[string]ReactionHandler),
		done:     make(chan struct{}),
		logger:   logging.Component("channel"),
	}
	go f.readLoop()
	return f, nil
}

// Close tears down the connection. Subscribed handlers receive no
// further events.
func (f *WSFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	err := f.conn.Close()
	<-f.done
	return err
}

// SubscribeMessages registers h and tells the relay to start forwarding
// the channel if this is its first subscription.
func (f *WSFeed) SubscribeMessages(_ context.Context, channelID string, h MessageHandler) (func(), error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if err := f.subscribeChannel(channelID); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	f.mu.Lock()
	if f.messages[channelID] == nil {
		f.messages[channelID] = make(map[string]MessageHandler)
	}
	f.messages[channelID][id] = h
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.messages[channelID], id)
		f.mu.Unlock()
	}, nil
}

// SubscribeReactions registers h for reaction updates on channelID.
func (f *WSFeed) SubscribeReactions(_ context.Context, channelID string, h ReactionHandler) (func(), error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if err := f.subscribeChannel(channelID); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	f.mu.Lock()
	if f.reacts[channelID] == nil {
		f.reacts[channelID] = make(map[string]ReactionHandler)
	}
	f.reacts[channelID][id] = h
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.reacts[channelID], id)
		f.mu.Unlock()
	}, nil
}

// Publish sends a publish frame. The relay assigns the server timestamp
// and echoes the message back through the subscription.
func (f *WSFeed) Publish(_ context.Context, channelID string, evt MessageEvent) error {
	if evt.ID == "" {
		return model.ErrEmptyID
	}
	return f.writeFrame(Frame{
		Type:    FramePublish,
		Channel: channelID,
		Message: &evt,
	})
}

// IncrementReaction sends a react frame. The authoritative count comes
// back as a reaction frame.
func (f *WSFeed) IncrementReaction(_ context.Context, channelID, messageID string, direction model.Direction) error {
	if !direction.Valid() {
		return fmt.Errorf("invalid reaction direction %q", direction)
	}
	return f.writeFrame(Frame{
		Type:      FrameReact,
		Channel:   channelID,
		MessageID: messageID,
		Direction: direction,
	})
}

func (f *WSFeed) subscribeChannel(channelID string) error {
	return f.writeFrame(Frame{Type: FrameSubscribe, Channel: channelID})
}

func (f *WSFeed) writeFrame(frame Frame) error {
	f.mu.RLock()
	closed := f.closed
	f.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return f.conn.WriteJSON(frame)
}

func (f *WSFeed) readLoop() {
	defer close(f.done)

	for {
		var frame Frame
		if err := f.conn.ReadJSON(&frame); err != nil {
			f.mu.RLock()
			closed := f.closed
			f.mu.RUnlock()
			if !closed {
				f.logger.Warn().Err(err).Msg("relay connection lost")
			}
			return
		}
		f.dispatch(frame)
	}
}

func (f *WSFeed) dispatch(frame Frame) {
	switch frame.Type {
	case FrameMessage:
		if frame.Message == nil {
			return
		}
		f.mu.RLock()
		handlers := make([]MessageHandler, 0, len(f.messages[frame.Channel]))
		for _, h := range f.messages[frame.Channel] {
			handlers = append(handlers, h)
		}
		f.mu.RUnlock()
		for _, h := range handlers {
			h(*frame.Message)
		}
	case FrameReaction:
		if frame.Reaction == nil {
			return
		}
		f.mu.RLock()
		handlers := make([]ReactionHandler, 0, len(f.reacts[frame.Channel]))
		for _, h := range f.reacts[frame.Channel] {
			handlers = append(handlers, h)
		}
		f.mu.RUnlock()
		for _, h := range handlers {
			h(*frame.Reaction)
		}
	default:
		f.logger.Debug().Str("type", frame.Type).Msg("ignoring unknown frame type")
	}
}
