package presence

import (
	"context"
	"time"

	"uplink-service/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Socket event names on the ephemeral channel.
const (
	EventSync   = "presence_sync"
	EventTyping = "typing"
)

// StatusWriter persists the durable online flag on the profile.
type StatusWriter interface {
	SetPresence(ctx context.Context, userID string, online bool) error
}

type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Tracker records socket joins and leaves and tells every client who is
// online after each change.
type Tracker struct {
	store  Store
	status StatusWriter
	out    Broadcaster
	log    *zap.Logger
}

func NewTracker(store Store, status StatusWriter, out Broadcaster, log *zap.Logger) *Tracker {
	return &Tracker{store: store, status: status, out: out, log: log.Named("presence")}
}

func (t *Tracker) Connect(ctx context.Context, userID string) error {
	n, err := t.store.Join(ctx, userID)
	if err != nil {
		return err
	}
	metrics.SocketConnections.Inc()
	if n == 1 {
		t.persist(ctx, userID, true)
	}
	t.sync(ctx)
	return nil
}

func (t *Tracker) Disconnect(ctx context.Context, userID string) error {
	n, err := t.store.Leave(ctx, userID)
	if err != nil {
		return err
	}
	metrics.SocketConnections.Dec()
	if n == 0 {
		t.persist(ctx, userID, false)
	}
	t.sync(ctx)
	return nil
}

func (t *Tracker) Snapshot(ctx context.Context) (Snapshot, error) {
	return t.store.Snapshot(ctx)
}

// persist is best effort; the live snapshot stays authoritative.
func (t *Tracker) persist(ctx context.Context, userID string, online bool) {
	if t.status == nil {
		return
	}
	if err := t.status.SetPresence(ctx, userID, online); err != nil {
		t.log.Warn("persist presence", zap.String("user_id", userID), zap.Bool("online", online), zap.Error(err))
	}
}

func (t *Tracker) sync(ctx context.Context) {
	snap, err := t.store.Snapshot(ctx)
	if err != nil {
		t.log.Warn("presence snapshot", zap.Error(err))
		return
	}
	t.out.Broadcast(EventSync, snap)
}

// TypingEvent is broadcast to the whole chat feature. Receivers filter by
// conversation.
type TypingEvent struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	At             int64  `json:"at"`
}

// TypingGate drops typing events from one socket beyond a steady rate.
type TypingGate struct {
	limiter *rate.Limiter
}

func NewTypingGate(perSecond float64) *TypingGate {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &TypingGate{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (g *TypingGate) Allow() bool {
	if g.limiter.Allow() {
		return true
	}
	metrics.TypingDropped.Inc()
	return false
}

// Typing relays one typing signal from userID, subject to gate.
func (t *Tracker) Typing(gate *TypingGate, userID, conversationID string) bool {
	if userID == "" || conversationID == "" || !gate.Allow() {
		return false
	}
	t.out.Broadcast(EventTyping, TypingEvent{
		ConversationID: conversationID,
		UserID:         userID,
		At:             time.Now().UnixMilli(),
	})
	return true
}
