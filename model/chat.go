package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ConversationDirect = "direct"
	ConversationGroup  = "group"
)

const (
	MessageText   = "text"
	MessageImage  = "image"
	MessageFile   = "file"
	MessageSystem = "system"
)

type Conversation struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	Type          string     `gorm:"not null;index" json:"type"`
	Name          *string    `json:"name"`
	GroupImageURL *string    `json:"group_image_url"`
	CreatedBy     *string    `gorm:"size:36" json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastMessageID *string    `gorm:"size:36" json:"last_message_id"`
	LastMessageAt *time.Time `gorm:"index" json:"last_message_at"`
	// DirectKey is the unordered participant pair of a direct conversation.
	// The unique index makes a second direct conversation for the same pair
	// fail instead of racing in.
	DirectKey *string `gorm:"uniqueIndex;size:80" json:"-"`
}

func (c *Conversation) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// DirectKey orders the pair so (a,b) and (b,a) produce the same key.
func DirectKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

type Participant struct {
	ConversationID string     `gorm:"primaryKey;size:36" json:"conversation_id"`
	UserID         string     `gorm:"primaryKey;size:36;index" json:"user_id"`
	JoinedAt       time.Time  `gorm:"autoCreateTime" json:"joined_at"`
	LastReadAt     *time.Time `json:"last_read_at"`
	UnreadCount    int        `gorm:"not null;default:0" json:"unread_count"`
}

func (Participant) TableName() string { return "conversation_participants" }

type Message struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	ConversationID string    `gorm:"not null;index:idx_messages_conversation_created,priority:1" json:"conversation_id"`
	SenderID       *string   `gorm:"size:36;index;uniqueIndex:idx_messages_sender_client" json:"sender_id"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	Type           string    `gorm:"not null;default:text" json:"type"`
	FileURL        *string   `json:"file_url"`
	IsEdited       bool      `gorm:"not null;default:false" json:"is_edited"`
	ReplyToID      *string   `gorm:"size:36" json:"reply_to_id"`
	ClientID       *string   `gorm:"size:64;uniqueIndex:idx_messages_sender_client" json:"client_id"`
	CreatedAt      time.Time `gorm:"index:idx_messages_conversation_created,priority:2" json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// SentBy reports whether userID authored the message.
func (m Message) SentBy(userID string) bool {
	return m.SenderID != nil && *m.SenderID == userID
}

func ValidMessageKind(kind string) bool {
	switch kind {
	case MessageText, MessageImage, MessageFile:
		return true
	}
	return false
}

type MessageStatus struct {
	MessageID string    `gorm:"primaryKey;size:36" json:"message_id"`
	UserID    string    `gorm:"primaryKey;size:36" json:"user_id"`
	Status    string    `gorm:"not null" json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (MessageStatus) TableName() string { return "message_status" }
