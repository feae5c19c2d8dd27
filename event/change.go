package event

import (
	"context"
	"encoding/json"
	"time"
)

type Type string

const (
	Insert Type = "insert"
	Update Type = "update"
)

// Tables whose mutations are published on the feed.
const (
	TableMessages      = "messages"
	TableConversations = "conversations"
	TableParticipants  = "conversation_participants"
	TableProfiles      = "profiles"
)

var AllTables = []string{TableMessages, TableConversations, TableParticipants, TableProfiles}

// Change is one row mutation.
type Change struct {
	Table     string          `json:"table"`
	EventType Type            `json:"eventType"`
	New       json.RawMessage `json:"new"`
	Old       json.RawMessage `json:"old,omitempty"`
	Time      int64           `json:"time"`
}

func NewChange(table string, t Type, row any) (Change, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return Change{}, err
	}
	return Change{
		Table:     table,
		EventType: t,
		New:       data,
		Time:      time.Now().UnixMicro(),
	}, nil
}

// Decode unmarshals the new row into v.
func (c Change) Decode(v any) error {
	return json.Unmarshal(c.New, v)
}

type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// Feed is a topic-per-table publish/subscribe channel. Delivery within one
// subscription is in order; the channel closes when ctx ends.
type Feed interface {
	Publisher
	Subscribe(ctx context.Context, tables ...string) (<-chan Change, error)
}

// Discard drops every change. Used where publishing is optional.
type Discard struct{}

func (Discard) Publish(context.Context, Change) error { return nil }
