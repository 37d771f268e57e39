package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftchat/drift/internal/model"
)

func TestMemoryFeed_PublishFansOutWithServerTimestamp(t *testing.T) {
	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	feed := NewMemoryFeed(WithMemoryNow(func() time.Time { return stamp }))

	var got []MessageEvent
	cancel, err := feed.SubscribeMessages(context.Background(), "lobby", func(evt MessageEvent) {
		got = append(got, evt)
	})
	require.NoError(t, err)
	defer cancel()

	err = feed.Publish(context.Background(), "lobby", MessageEvent{ID: "m1", Text: "hi", Author: "ana"})
	require.NoError(t, err)

	require.Len(t, got, 1)
	require.Equal(t, "m1", got[0].ID)
	require.NotNil(t, got[0].ServerTimestamp)
	require.Equal(t, stamp, *got[0].ServerTimestamp)
}

func TestMemoryFeed_PublishRequiresID(t *testing.T) {
	feed := NewMemoryFeed()
	err := feed.Publish(context.Background(), "lobby", MessageEvent{Text: "hi"})
	require.ErrorIs(t, err, model.ErrEmptyID)
}

func TestMemoryFeed_ChannelsAreIsolated(t *testing.T) {
	feed := NewMemoryFeed()

	var lobby, other int
	cancelLobby, err := feed.SubscribeMessages(context.Background(), "lobby", func(MessageEvent) { lobby++ })
	require.NoError(t, err)
	defer cancelLobby()
	cancelOther, err := feed.SubscribeMessages(context.Background(), "dev", func(MessageEvent) { other++ })
	require.NoError(t, err)
	defer cancelOther()

	require.NoError(t, feed.Publish(context.Background(), "lobby", MessageEvent{ID: "m1", Text: "hi"}))

	require.Equal(t, 1, lobby)
	require.Equal(t, 0, other)
}

func TestMemoryFeed_UnsubscribeStopsDelivery(t *testing.T) {
	feed := NewMemoryFeed()

	var count int
	cancel, err := feed.SubscribeMessages(context.Background(), "lobby", func(MessageEvent) { count++ })
	require.NoError(t, err)

	require.NoError(t, feed.Publish(context.Background(), "lobby", MessageEvent{ID: "m1", Text: "a"}))
	cancel()
	require.NoError(t, feed.Publish(context.Background(), "lobby", MessageEvent{ID: "m2", Text: "b"}))

	require.Equal(t, 1, count)
}

func TestMemoryFeed_NilHandlerRejected(t *testing.T) {
	feed := NewMemoryFeed()

	_, err := feed.SubscribeMessages(context.Background(), "lobby", nil)
	require.ErrorIs(t, err, ErrNilHandler)
	_, err = feed.SubscribeReactions(context.Background(), "lobby", nil)
	require.ErrorIs(t, err, ErrNilHandler)
}

func TestMemoryFeed_ReactionCountersAreAuthoritative(t *testing.T) {
	feed := NewMemoryFeed()

	var got []ReactionEvent
	cancel, err := feed.SubscribeReactions(context.Background(), "lobby", func(evt ReactionEvent) {
		got = append(got, evt)
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, feed.IncrementReaction(context.Background(), "lobby", "m1", model.DirectionUp))
	require.NoError(t, feed.IncrementReaction(context.Background(), "lobby", "m1", model.DirectionUp))
	require.NoError(t, feed.IncrementReaction(context.Background(), "lobby", "m1", model.DirectionDown))

	require.Len(t, got, 3)
	last := got[2]
	require.Equal(t, "m1", last.MessageID)
	require.Equal(t, 2, last.Reactions.Up)
	require.Equal(t, 1, last.Reactions.Down)
	require.Equal(t, int64(3), last.Version)
}

func TestMemoryFeed_ReactionVersionsPerMessage(t *testing.T) {
	feed := NewMemoryFeed()

	var got []ReactionEvent
	cancel, err := feed.SubscribeReactions(context.Background(), "lobby", func(evt ReactionEvent) {
		got = append(got, evt)
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, feed.IncrementReaction(context.Background(), "lobby", "m1", model.DirectionUp))
	require.NoError(t, feed.IncrementReaction(context.Background(), "lobby", "m2", model.DirectionUp))

	require.Len(t, got, 2)
	require.Equal(t, int64(1), got[0].Version)
	require.Equal(t, int64(1), got[1].Version)
}
