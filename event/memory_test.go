package event

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(time.Second):
		t.Fatal("no change received")
	}
	return Change{}
}

func TestMemoryFiltersByTable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewMemory()
	messages, err := feed.Subscribe(ctx, TableMessages)
	require.NoError(t, err)
	everything, err := feed.Subscribe(ctx)
	require.NoError(t, err)

	profile, err := NewChange(TableProfiles, Update, map[string]string{"id": "u1"})
	require.NoError(t, err)
	msg, err := NewChange(TableMessages, Insert, map[string]string{"id": "m1", "conversation_id": "c1"})
	require.NoError(t, err)

	require.NoError(t, feed.Publish(ctx, profile))
	require.NoError(t, feed.Publish(ctx, msg))

	got := receive(t, messages)
	assert.Equal(t, TableMessages, got.Table)

	var row struct {
		ID             string `json:"id"`
		ConversationID string `json:"conversation_id"`
	}
	require.NoError(t, got.Decode(&row))
	assert.Equal(t, "c1", row.ConversationID)

	assert.Equal(t, TableProfiles, receive(t, everything).Table)
	assert.Equal(t, TableMessages, receive(t, everything).Table)
}

func TestMemoryClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	feed := NewMemory()
	ch, err := feed.Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestJournalReplaysOutgoingOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "changes.log")
	j, err := OpenJournal(path)
	require.NoError(t, err)

	first, _ := NewChange(TableMessages, Insert, map[string]string{"id": "m1"})
	second, _ := NewChange(TableParticipants, Update, map[string]string{"user_id": "u2"})
	consumed, _ := NewChange(TableProfiles, Update, map[string]string{"id": "u3"})

	require.NoError(t, j.Record(DirectionOut, first))
	require.NoError(t, j.Record(DirectionIn, consumed))
	require.NoError(t, j.Record(DirectionOut, second))
	require.NoError(t, j.Close())

	var replayed []Change
	n, err := j.Replay(context.Background(), func(_ context.Context, c Change) error {
		replayed = append(replayed, c)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, replayed, 2)
	assert.Equal(t, TableMessages, replayed[0].Table)
	assert.Equal(t, TableParticipants, replayed[1].Table)
	assert.JSONEq(t, `{"user_id":"u2"}`, string(replayed[1].New))
}

func TestNilJournalRecordIsNoop(t *testing.T) {
	var j *Journal
	assert.NoError(t, j.Record(DirectionOut, Change{}))
	assert.NoError(t, j.Close())
}
