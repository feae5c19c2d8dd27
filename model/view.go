package model

import (
	"sort"
	"time"
)

// ParticipantProfile is a participant's profile plus the participant-scoped
// read marker.
type ParticipantProfile struct {
	Profile
	LastReadAt *time.Time `json:"last_read_at"`
}

type MessageView struct {
	Message
	Sender *Profile `json:"sender,omitempty"`
	// Pending marks an optimistic local entry not yet confirmed by the store.
	Pending bool `json:"pending,omitempty"`
}

type ConversationView struct {
	Conversation
	Participants []ParticipantProfile `json:"participants"`
	LastMessage  *MessageView         `json:"last_message,omitempty"`
	UnreadCount  int                  `json:"unread_count"`
}

// HasParticipant reports whether userID is among the cached participants.
func (c ConversationView) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// SortConversations orders by most recent message first. Conversations that
// never had a message go last, newest first.
func SortConversations(views []ConversationView) {
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i].LastMessageAt, views[j].LastMessageAt
		switch {
		case a != nil && b != nil:
			if !a.Equal(*b) {
				return a.After(*b)
			}
		case a != nil:
			return true
		case b != nil:
			return false
		}
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
}
