package listener

import (
	"context"

	"uplink-service/event"
	"uplink-service/metrics"

	"go.uber.org/zap"
)

// EventChange is the socket event every change is delivered under.
const EventChange = "change"

// Audience resolves who may see a conversation's changes.
type Audience interface {
	Participants(ctx context.Context, conversationID string) ([]string, error)
}

// Emitter delivers a socket event to users' rooms or to every connection.
type Emitter interface {
	EmitToUsers(userIDs []string, event string, payload any)
	Broadcast(event string, payload any)
}

// Relay forwards feed changes to the sockets allowed to see them: message,
// conversation and participant rows go to the conversation's participants,
// profile rows go to everyone.
type Relay struct {
	feed     event.Feed
	audience Audience
	emitter  Emitter
	log      *zap.Logger
}

func NewRelay(feed event.Feed, audience Audience, emitter Emitter, log *zap.Logger) *Relay {
	return &Relay{feed: feed, audience: audience, emitter: emitter, log: log.Named("relay")}
}

// Run blocks until ctx ends or the subscription closes.
func (r *Relay) Run(ctx context.Context) error {
	changes, err := r.feed.Subscribe(ctx, event.AllTables...)
	if err != nil {
		return err
	}
	for c := range changes {
		r.Route(ctx, c)
	}
	return ctx.Err()
}

func (r *Relay) Route(ctx context.Context, c event.Change) {
	if c.Table == event.TableProfiles {
		r.emitter.Broadcast(EventChange, c)
		metrics.ChangesRelayed.WithLabelValues(c.Table).Inc()
		return
	}

	conversationID, err := conversationOf(c)
	if err != nil || conversationID == "" {
		r.log.Warn("change without conversation", zap.String("table", c.Table), zap.Error(err))
		return
	}
	users, err := r.audience.Participants(ctx, conversationID)
	if err != nil {
		r.log.Error("resolve audience", zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	if len(users) == 0 {
		return
	}
	r.emitter.EmitToUsers(users, EventChange, c)
	metrics.ChangesRelayed.WithLabelValues(c.Table).Inc()
}

func conversationOf(c event.Change) (string, error) {
	var row struct {
		ID             string `json:"id"`
		ConversationID string `json:"conversation_id"`
	}
	if err := c.Decode(&row); err != nil {
		return "", err
	}
	if c.Table == event.TableConversations {
		return row.ID, nil
	}
	return row.ConversationID, nil
}
