package restore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftchat/drift/internal/model"
	"github.com/driftchat/drift/internal/position"
	"github.com/driftchat/drift/internal/snapshot"
)

// fakeLoader serves a canned payload.
type fakeLoader struct {
	payload []byte
	savedAt time.Time
	err     error
}

func (l *fakeLoader) Load(context.Context, string) ([]byte, time.Time, error) {
	return l.payload, l.savedAt, l.err
}

// fakeTarget records restored messages.
type fakeTarget struct {
	restored []model.Message
	err      error
}

func (t *fakeTarget) RestoreMessage(msg model.Message) error {
	if t.err != nil {
		return t.err
	}
	t.restored = append(t.restored, msg)
	return nil
}

func encodeSnapshot(t *testing.T, messages []model.Message) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{"messages": messages})
	require.NoError(t, err)
	return data
}

func TestMissingSnapshotStartsEmpty(t *testing.T) {
	target := &fakeTarget{}
	rec := New(Config{ChannelID: "lobby"}, &fakeLoader{err: snapshot.ErrNotFound}, target)

	result := rec.Run(context.Background())
	require.Zero(t, result.Restored)
	require.Empty(t, target.restored)
}

func TestCorruptSnapshotStartsEmpty(t *testing.T) {
	target := &fakeTarget{}
	rec := New(Config{ChannelID: "lobby"}, &fakeLoader{payload: []byte("not json{")}, target)

	result := rec.Run(context.Background())
	require.Zero(t, result.Restored)
	require.Zero(t, result.Discarded)
	require.Empty(t, target.restored)
}

func TestAliveMessagesAreRestoredVerbatim(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	spawn := now.Add(-5 * time.Second)
	payload := encodeSnapshot(t, []model.Message{{
		ID:        "m-1",
		Text:      "hi",
		Author:    "alice",
		SpawnTime: spawn,
		Lifetime:  10 * time.Second,
		Lane:      3,
	}})

	target := &fakeTarget{}
	rec := New(Config{ChannelID: "lobby", Now: func() time.Time { return now }}, &fakeLoader{payload: payload}, target)

	result := rec.Run(context.Background())
	require.Equal(t, 1, result.Restored)
	require.Len(t, target.restored, 1)
	require.Equal(t, 3, target.restored[0].Lane)
	require.True(t, spawn.Equal(target.restored[0].SpawnTime))
}

func TestGracePeriodBoundaries(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lifetime := 10 * time.Second

	tests := []struct {
		name          string
		elapsed       time.Duration
		wantRestored  int
		wantLapsed    int
		wantDiscarded int
	}{
		{"borderline alive resumes counting", 9900 * time.Millisecond, 1, 0, 0},
		{"just expired falls in grace", 10200 * time.Millisecond, 0, 1, 0},
		{"well past grace is dropped", 12 * time.Second, 0, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := encodeSnapshot(t, []model.Message{{
				ID:        "m-1",
				Text:      "hi",
				Author:    "alice",
				SpawnTime: now.Add(-tt.elapsed),
				Lifetime:  lifetime,
			}})

			target := &fakeTarget{}
			rec := New(Config{
				ChannelID:   "lobby",
				GracePeriod: 500 * time.Millisecond,
				Now:         func() time.Time { return now },
			}, &fakeLoader{payload: payload}, target)

			result := rec.Run(context.Background())
			require.Equal(t, tt.wantRestored, result.Restored)
			require.Len(t, result.Lapsed, tt.wantLapsed)
			require.Equal(t, tt.wantDiscarded, result.Discarded)
			require.Len(t, target.restored, tt.wantRestored)
		})
	}
}

func TestLapsedMessagesAreNeverReinserted(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := encodeSnapshot(t, []model.Message{{
		ID:        "m-1",
		Text:      "hi",
		Author:    "alice",
		SpawnTime: now.Add(-10100 * time.Millisecond),
		Lifetime:  10 * time.Second,
		Reactions: model.Reactions{Up: 4},
	}})

	target := &fakeTarget{}
	rec := New(Config{
		ChannelID:   "lobby",
		GracePeriod: 500 * time.Millisecond,
		Now:         func() time.Time { return now },
	}, &fakeLoader{payload: payload}, target)

	result := rec.Run(context.Background())
	require.Empty(t, target.restored)
	require.Len(t, result.Lapsed, 1)
	// Reaction counts survive for the statistics fold.
	require.Equal(t, 4, result.Lapsed[0].Reactions.Up)
}

func TestRestoreErrorsAreCountedNotFatal(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := encodeSnapshot(t, []model.Message{{
		ID:        "m-1",
		Text:      "hi",
		Author:    "alice",
		SpawnTime: now.Add(-time.Second),
		Lifetime:  10 * time.Second,
	}})

	target := &fakeTarget{err: model.ErrEmptyID}
	rec := New(Config{ChannelID: "lobby", Now: func() time.Time { return now }}, &fakeLoader{payload: payload}, target)

	result := rec.Run(context.Background())
	require.Zero(t, result.Restored)
	require.Equal(t, 1, result.Discarded)
}

func TestRestorationIsPositionIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	spawn := now.Add(-4 * time.Second)
	msg := model.Message{
		ID:        "m-1",
		Text:      "hi",
		Author:    "alice",
		SpawnTime: spawn,
		Lifetime:  10 * time.Second,
		Lane:      2,
	}

	calc := position.NewCalculator(8)
	before := calc.Compute(msg.SpawnTime, msg.Lane, msg.ID, now, msg.Lifetime)

	target := &fakeTarget{}
	rec := New(Config{ChannelID: "lobby", Now: func() time.Time { return now }},
		&fakeLoader{payload: encodeSnapshot(t, []model.Message{msg})}, target)
	rec.Run(context.Background())

	require.Len(t, target.restored, 1)
	got := target.restored[0]
	after := calc.Compute(got.SpawnTime, got.Lane, got.ID, now, got.Lifetime)
	require.Equal(t, before, after)
}
