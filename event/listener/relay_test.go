package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"uplink-service/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type audienceMock struct {
	mock.Mock
}

func (m *audienceMock) Participants(ctx context.Context, conversationID string) ([]string, error) {
	args := m.Called(ctx, conversationID)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

type emitted struct {
	users []string
	event string
	all   bool
}

type emitterStub struct {
	mu  sync.Mutex
	out []emitted
}

func (e *emitterStub) EmitToUsers(userIDs []string, ev string, _ any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.out = append(e.out, emitted{users: userIDs, event: ev})
}

func (e *emitterStub) Broadcast(ev string, _ any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.out = append(e.out, emitted{event: ev, all: true})
}

func (e *emitterStub) snapshot() []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]emitted(nil), e.out...)
}

func change(t *testing.T, table string, row any) event.Change {
	t.Helper()
	c, err := event.NewChange(table, event.Insert, row)
	require.NoError(t, err)
	return c
}

func TestRouteMessageToParticipants(t *testing.T) {
	audience := new(audienceMock)
	audience.On("Participants", mock.Anything, "c1").Return([]string{"u1", "u2"}, nil)
	emitter := &emitterStub{}
	relay := NewRelay(event.NewMemory(), audience, emitter, zap.NewNop())

	relay.Route(context.Background(), change(t, event.TableMessages, map[string]string{"id": "m1", "conversation_id": "c1"}))

	out := emitter.snapshot()
	require.Len(t, out, 1)
	assert.Equal(t, []string{"u1", "u2"}, out[0].users)
	assert.Equal(t, EventChange, out[0].event)
	audience.AssertExpectations(t)
}

func TestRouteConversationUsesRowID(t *testing.T) {
	audience := new(audienceMock)
	audience.On("Participants", mock.Anything, "c9").Return([]string{"u1"}, nil)
	emitter := &emitterStub{}
	relay := NewRelay(event.NewMemory(), audience, emitter, zap.NewNop())

	relay.Route(context.Background(), change(t, event.TableConversations, map[string]string{"id": "c9"}))

	require.Len(t, emitter.snapshot(), 1)
	audience.AssertExpectations(t)
}

func TestRouteProfileBroadcasts(t *testing.T) {
	audience := new(audienceMock)
	emitter := &emitterStub{}
	relay := NewRelay(event.NewMemory(), audience, emitter, zap.NewNop())

	relay.Route(context.Background(), change(t, event.TableProfiles, map[string]string{"id": "u1"}))

	out := emitter.snapshot()
	require.Len(t, out, 1)
	assert.True(t, out[0].all)
	audience.AssertNotCalled(t, "Participants", mock.Anything, mock.Anything)
}

func TestRouteDropsOnAudienceError(t *testing.T) {
	audience := new(audienceMock)
	audience.On("Participants", mock.Anything, "c1").Return(nil, errors.New("db down"))
	emitter := &emitterStub{}
	relay := NewRelay(event.NewMemory(), audience, emitter, zap.NewNop())

	relay.Route(context.Background(), change(t, event.TableParticipants, map[string]string{"conversation_id": "c1", "user_id": "u1"}))
	assert.Empty(t, emitter.snapshot())
}

func TestRunRelaysFromFeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := event.NewMemory()
	audience := new(audienceMock)
	audience.On("Participants", mock.Anything, "c1").Return([]string{"u2"}, nil)
	emitter := &emitterStub{}
	relay := NewRelay(feed, audience, emitter, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	msg := change(t, event.TableMessages, map[string]string{"id": "m1", "conversation_id": "c1"})
	require.Eventually(t, func() bool {
		_ = feed.Publish(ctx, msg)
		return len(emitter.snapshot()) > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
