// Package channel abstracts the remote messaging collaborator: a
// push/subscribe stream of message and reaction events keyed by channel
// id. The engine consumes it through the narrow Feed interface; both a
// websocket implementation and an in-process one are provided.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/driftchat/drift/internal/model"
)

// Feed errors.
var (
	ErrNilHandler = errors.New("handler cannot be nil")
	ErrClosed     = errors.New("feed is closed")
)

// MessageEvent is a message delivered by (or published to) the channel.
// Redelivery is possible; consumers dedup by ID.
type MessageEvent struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Author string `json:"author"`

	// ServerTimestamp, when present, is the authoritative spawn time.
	// Absent on events from sources without a server clock; the consumer
	// falls back to local receipt time.
	ServerTimestamp *time.Time `json:"server_timestamp,omitempty"`
}

// ReactionEvent is an authoritative reaction-count update.
type ReactionEvent struct {
	MessageID string          `json:"message_id"`
	Reactions model.Reactions `json:"reactions"`

	// Version increases monotonically per message on the remote side and
	// keys last-writer-wins reconciliation.
	Version int64 `json:"version"`
}

// MessageHandler receives inbound message events.
type MessageHandler func(MessageEvent)

// ReactionHandler receives authoritative reaction updates.
type ReactionHandler func(ReactionEvent)

// Feed is the external messaging collaborator.
type Feed interface {
	// SubscribeMessages delivers new messages on the channel to h until
	// the returned cancel function is called.
	SubscribeMessages(ctx context.Context, channelID string, h MessageHandler) (func(), error)

	// SubscribeReactions delivers authoritative reaction updates for
	// messages on the channel.
	SubscribeReactions(ctx context.Context, channelID string, h ReactionHandler) (func(), error)

	// Publish appends a message to the channel. Fire-and-forget: callers
	// display their own message optimistically and never wait for the
	// echo, which is deduplicated by id.
	Publish(ctx context.Context, channelID string, evt MessageEvent) error

	// IncrementReaction atomically increments a counter on the remote
	// side. The authoritative result arrives through SubscribeReactions.
	IncrementReaction(ctx context.Context, channelID, messageID string, direction model.Direction) error
}

// Wire frame types for the websocket transport.
const (
	FrameSubscribe = "subscribe"
	FramePublish   = "publish"
	FrameMessage   = "message"
	FrameReact     = "react"
	FrameReaction  = "reaction"
)

// Frame is the wire envelope shared by the websocket feed and the relay.
type Frame struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`

	Message  *MessageEvent  `json:"message,omitempty"`
	Reaction *ReactionEvent `json:"reaction,omitempty"`

	// React fields, set on FrameReact.
	MessageID string          `json:"message_id,omitempty"`
	Direction model.Direction `json:"direction,omitempty"`
}
