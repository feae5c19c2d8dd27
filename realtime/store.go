// Package realtime keeps a client-side projection of conversations,
// messages and profiles in step with the change feed, and runs the optimistic
// send, typing and heartbeat logic that sits next to it.
package realtime

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"uplink-service/apperr"
	"uplink-service/chat"
	"uplink-service/event"
	"uplink-service/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reader marks a conversation read on the server.
type Reader interface {
	MarkRead(ctx context.Context, conversationID string) error
}

// Sender stores a message on the server.
type Sender interface {
	Send(ctx context.Context, in chat.SendInput) (*model.MessageView, error)
}

// Store is the projection. Changes are applied one at a time, in arrival
// order; readers get copies.
type Store struct {
	mu            sync.RWMutex
	self          string
	active        string
	conversations []model.ConversationView
	messages      []model.MessageView
	profiles      []model.Profile

	reader Reader
	log    *zap.Logger
	now    func() time.Time
}

func NewStore(self string, reader Reader, log *zap.Logger) *Store {
	return &Store{self: self, reader: reader, log: log.Named("realtime"), now: time.Now}
}

// Load replaces the projection with freshly fetched state.
func (s *Store) Load(conversations []model.ConversationView, profiles []model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = append([]model.ConversationView(nil), conversations...)
	model.SortConversations(s.conversations)
	s.profiles = append([]model.Profile(nil), profiles...)
	sortProfiles(s.profiles)
}

// Open makes conversationID the active conversation with its message list
// and marks it read, locally and on the server.
func (s *Store) Open(ctx context.Context, conversationID string, messages []model.MessageView) {
	s.mu.Lock()
	s.active = conversationID
	s.messages = append([]model.MessageView(nil), messages...)
	if i := s.conversationIndex(conversationID); i >= 0 {
		s.conversations[i].UnreadCount = 0
	}
	s.mu.Unlock()

	if conversationID != "" {
		s.markRead(ctx, conversationID)
	}
}

func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Store) Conversations() []model.ConversationView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.ConversationView(nil), s.conversations...)
}

func (s *Store) Messages() []model.MessageView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.MessageView(nil), s.messages...)
}

func (s *Store) Profiles() []model.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Profile(nil), s.profiles...)
}

// Run applies changes until the channel closes or ctx ends.
func (s *Store) Run(ctx context.Context, changes <-chan event.Change) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			s.Apply(ctx, c)
		}
	}
}

func (s *Store) Apply(ctx context.Context, c event.Change) {
	var err error
	switch c.Table {
	case event.TableMessages:
		var m model.Message
		if err = c.Decode(&m); err == nil {
			if c.EventType == event.Insert {
				s.messageInserted(ctx, m)
			} else {
				s.messageUpdated(m)
			}
		}
	case event.TableParticipants:
		var p model.Participant
		if err = c.Decode(&p); err == nil {
			s.participantChanged(p)
		}
	case event.TableProfiles:
		var p model.Profile
		if err = c.Decode(&p); err == nil {
			if c.EventType == event.Insert {
				s.profileInserted(p)
			} else {
				s.profileUpdated(p)
			}
		}
	case event.TableConversations:
		var conv model.Conversation
		if err = c.Decode(&conv); err == nil && c.EventType == event.Update {
			s.conversationUpdated(conv)
		}
	}
	if err != nil {
		s.log.Warn("undecodable change", zap.String("table", c.Table), zap.Error(err))
	}
}

func (s *Store) messageInserted(ctx context.Context, m model.Message) {
	s.mu.Lock()
	view := model.MessageView{Message: m, Sender: s.profile(m.SenderID)}
	markRead := false

	if m.ConversationID == s.active {
		if !s.confirm(view) && s.messageIndex(m.ID) < 0 {
			s.messages = append(s.messages, view)
		}
		markRead = !m.SentBy(s.self)
	}

	if i := s.conversationIndex(m.ConversationID); i >= 0 {
		conv := &s.conversations[i]
		last := view
		conv.LastMessage = &last
		conv.LastMessageID = &m.ID
		conv.LastMessageAt = &m.CreatedAt
		if m.ConversationID != s.active && !m.SentBy(s.self) {
			conv.UnreadCount++
		}
		model.SortConversations(s.conversations)
	}
	active := s.active
	s.mu.Unlock()

	if markRead {
		s.markRead(ctx, active)
	}
}

// markRead tells the server in the background; a failure only costs a
// stale unread count.
func (s *Store) markRead(ctx context.Context, conversationID string) {
	if s.reader == nil {
		return
	}
	go func() {
		if err := s.reader.MarkRead(context.WithoutCancel(ctx), conversationID); err != nil {
			s.log.Warn("mark read", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}()
}

// confirm swaps the pending copy carrying the same correlation id for the
// stored message. Correlation ids are per sender, so only own messages
// confirm. It reports whether one was found.
func (s *Store) confirm(view model.MessageView) bool {
	if view.ClientID == nil {
		return false
	}
	for i, m := range s.messages {
		if m.Pending && m.ClientID != nil && *m.ClientID == *view.ClientID && view.SentBy(s.self) {
			if view.Sender == nil {
				view.Sender = m.Sender
			}
			s.messages[i] = view
			return true
		}
	}
	return false
}

func (s *Store) messageUpdated(m model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.messageIndex(m.ID); i >= 0 {
		sender := s.messages[i].Sender
		s.messages[i] = model.MessageView{Message: m, Sender: sender}
		if sender == nil {
			s.messages[i].Sender = s.profile(m.SenderID)
		}
	}
	if i := s.conversationIndex(m.ConversationID); i >= 0 {
		conv := &s.conversations[i]
		if conv.LastMessage != nil && conv.LastMessage.ID == m.ID {
			conv.LastMessage = &model.MessageView{Message: m, Sender: conv.LastMessage.Sender}
		}
	}
}

func (s *Store) participantChanged(p model.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.conversations {
		conv := &s.conversations[i]
		if conv.ID != p.ConversationID {
			continue
		}
		for j := range conv.Participants {
			if conv.Participants[j].ID == p.UserID {
				conv.Participants[j].LastReadAt = p.LastReadAt
			}
		}
		if p.UserID == s.self {
			conv.UnreadCount = p.UnreadCount
		}
	}
}

func (s *Store) profileInserted(p model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.profiles {
		if existing.ID == p.ID {
			return
		}
	}
	s.profiles = append(s.profiles, p)
	sortProfiles(s.profiles)
}

// profileUpdated patches p everywhere it is shown. Read markers stay, they
// belong to the membership rather than the profile.
func (s *Store) profileUpdated(p model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.profiles {
		if s.profiles[i].ID == p.ID {
			s.profiles[i] = p
		}
	}
	sortProfiles(s.profiles)

	for i := range s.conversations {
		conv := &s.conversations[i]
		for j := range conv.Participants {
			if conv.Participants[j].ID == p.ID {
				conv.Participants[j].Profile = p
			}
		}
		if conv.LastMessage != nil && conv.LastMessage.SentBy(p.ID) {
			sender := p
			conv.LastMessage.Sender = &sender
		}
	}
	for i := range s.messages {
		if s.messages[i].SentBy(p.ID) {
			sender := p
			s.messages[i].Sender = &sender
		}
	}
}

func (s *Store) conversationUpdated(c model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.conversationIndex(c.ID); i >= 0 {
		s.conversations[i].Conversation = c
		model.SortConversations(s.conversations)
	}
}

// BeginSend shows content as a pending message in the active conversation
// and returns the input to send, tagged with a fresh correlation id.
func (s *Store) BeginSend(content, kind string, fileURL *string) (chat.SendInput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == "" {
		return chat.SendInput{}, apperr.Invalid("no active conversation")
	}
	if strings.TrimSpace(content) == "" {
		return chat.SendInput{}, apperr.Invalid("message content is required")
	}
	if kind == "" {
		kind = model.MessageText
	}

	clientID := uuid.NewString()
	self := s.self
	now := s.now()
	s.messages = append(s.messages, model.MessageView{
		Message: model.Message{
			ID:             clientID,
			ConversationID: s.active,
			SenderID:       &self,
			Content:        content,
			Type:           kind,
			FileURL:        fileURL,
			ClientID:       &clientID,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		Sender:  s.profile(&self),
		Pending: true,
	})

	return chat.SendInput{
		ConversationID: s.active,
		Content:        content,
		Kind:           kind,
		FileURL:        fileURL,
		ClientID:       clientID,
	}, nil
}

// FailSend drops the pending message and hands back its content so the
// composer can be refilled.
func (s *Store) FailSend(clientID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages {
		if m.Pending && m.ClientID != nil && *m.ClientID == clientID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return m.Content, true
		}
	}
	return "", false
}

// Send runs the whole optimistic send. On failure the pending message is
// removed and its content returned with the error. There is no timeout: a
// send whose insert event never arrives stays pending.
func (s *Store) Send(ctx context.Context, sender Sender, content, kind string, fileURL *string) (string, error) {
	in, err := s.BeginSend(content, kind, fileURL)
	if err != nil {
		return content, err
	}
	if _, err := sender.Send(ctx, in); err != nil {
		restored, _ := s.FailSend(in.ClientID)
		return restored, err
	}
	return "", nil
}

// Pending reports how many sends are awaiting confirmation.
func (s *Store) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages {
		if m.Pending {
			n++
		}
	}
	return n
}

func (s *Store) profile(id *string) *model.Profile {
	if id == nil {
		return nil
	}
	for _, p := range s.profiles {
		if p.ID == *id {
			out := p
			return &out
		}
	}
	return nil
}

func (s *Store) messageIndex(id string) int {
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) conversationIndex(id string) int {
	for i, c := range s.conversations {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func sortProfiles(profiles []model.Profile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		return strings.ToLower(profiles[i].Name()) < strings.ToLower(profiles[j].Name())
	})
}
