package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"uplink-service/apperr"
	"uplink-service/database/dbtest"
	"uplink-service/event"
	"uplink-service/model"
	"uplink-service/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recorder struct {
	mu      sync.Mutex
	changes []event.Change
}

func (r *recorder) Publish(_ context.Context, c event.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return nil
}

func (r *recorder) tables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.Table)
	}
	return out
}

type ChatSuite struct {
	suite.Suite
	db    *gorm.DB
	feed  *recorder
	svc   *Service
	alice string
	bob   string
	carol string
}

func TestChatSuite(t *testing.T) {
	suite.Run(t, new(ChatSuite))
}

func (s *ChatSuite) SetupTest() {
	s.db = dbtest.Open(s.T())
	s.feed = &recorder{}
	s.svc = NewService(s.db, s.feed, zap.NewNop(), "General")
	s.alice = s.profile("Alice")
	s.bob = s.profile("Bob")
	s.carol = s.profile("Carol")
}

func (s *ChatSuite) profile(name string) string {
	u := model.User{Email: name + "@example.com", Password: "x", Role: model.RoleMember}
	s.Require().NoError(s.db.Create(&u).Error)
	s.Require().NoError(s.db.Create(&model.Profile{ID: u.ID, Email: u.Email, DisplayName: &name}).Error)
	return u.ID
}

func (s *ChatSuite) as(userID string) context.Context {
	return session.For(context.Background(), userID, model.RoleMember)
}

func (s *ChatSuite) participant(conversationID, userID string) model.Participant {
	var p model.Participant
	s.Require().NoError(s.db.First(&p, "conversation_id = ? AND user_id = ?", conversationID, userID).Error)
	return p
}

func (s *ChatSuite) TestDirectConversationIsIdempotentForBothOrders() {
	first, err := s.svc.CreateDirectConversation(s.as(s.alice), s.bob)
	s.Require().NoError(err)

	again, err := s.svc.CreateDirectConversation(s.as(s.alice), s.bob)
	s.Require().NoError(err)
	reversed, err := s.svc.CreateDirectConversation(s.as(s.bob), s.alice)
	s.Require().NoError(err)

	s.Equal(first, again)
	s.Equal(first, reversed)

	var n int64
	s.db.Model(&model.Conversation{}).Where("type = ?", model.ConversationDirect).Count(&n)
	s.EqualValues(1, n)
	ids, err := s.svc.Participants(context.Background(), first)
	s.Require().NoError(err)
	s.ElementsMatch([]string{s.alice, s.bob}, ids)
}

func (s *ChatSuite) TestDirectConversationUniqueKeyRejectsDuplicateInsert() {
	id, err := s.svc.CreateDirectConversation(s.as(s.alice), s.bob)
	s.Require().NoError(err)

	key := model.DirectKey(s.bob, s.alice)
	dup := model.Conversation{Type: model.ConversationDirect, DirectKey: &key}
	s.Error(s.db.Create(&dup).Error)

	winner, err := s.svc.directByKey(context.Background(), key)
	s.Require().NoError(err)
	s.Equal(id, winner)
}

func (s *ChatSuite) TestDirectConversationRejectsSelfAndUnknown() {
	_, err := s.svc.CreateDirectConversation(s.as(s.alice), s.alice)
	s.ErrorIs(err, apperr.ErrInvalid)

	_, err = s.svc.CreateDirectConversation(s.as(s.alice), "missing")
	s.ErrorIs(err, apperr.ErrNotFound)

	_, err = s.svc.CreateDirectConversation(context.Background(), s.bob)
	s.ErrorIs(err, apperr.ErrUnauthenticated)
}

func (s *ChatSuite) TestSendUpdatesPointerAndUnread() {
	group, err := s.svc.CreateGroupConversation(s.as(s.alice), "Launch", []string{s.bob, s.carol})
	s.Require().NoError(err)

	msg, err := s.svc.Send(s.as(s.alice), SendInput{ConversationID: group, Content: "hello"})
	s.Require().NoError(err)
	s.Equal(model.MessageText, msg.Type)
	s.Require().NotNil(msg.Sender)
	s.Equal("Alice", msg.Sender.Name())

	var conversation model.Conversation
	s.Require().NoError(s.db.First(&conversation, "id = ?", group).Error)
	s.Require().NotNil(conversation.LastMessageID)
	s.Equal(msg.ID, *conversation.LastMessageID)
	s.NotNil(conversation.LastMessageAt)

	s.Equal(0, s.participant(group, s.alice).UnreadCount)
	s.Equal(1, s.participant(group, s.bob).UnreadCount)
	s.Equal(1, s.participant(group, s.carol).UnreadCount)

	_, err = s.svc.Send(s.as(s.bob), SendInput{ConversationID: group, Content: "hi"})
	s.Require().NoError(err)
	s.Equal(1, s.participant(group, s.alice).UnreadCount)
	s.Equal(1, s.participant(group, s.bob).UnreadCount)
	s.Equal(2, s.participant(group, s.carol).UnreadCount)

	s.Contains(s.feed.tables(), event.TableMessages)
	s.Contains(s.feed.tables(), event.TableConversations)
	s.Contains(s.feed.tables(), event.TableParticipants)
}

func (s *ChatSuite) TestSendRequiresMembership() {
	direct, err := s.svc.CreateDirectConversation(s.as(s.alice), s.bob)
	s.Require().NoError(err)

	_, err = s.svc.Send(s.as(s.carol), SendInput{ConversationID: direct, Content: "sneaky"})
	s.ErrorIs(err, apperr.ErrUnauthorized)

	_, err = s.svc.Send(context.Background(), SendInput{ConversationID: direct, Content: "anon"})
	s.ErrorIs(err, apperr.ErrUnauthenticated)

	_, err = s.svc.Send(s.as(s.alice), SendInput{ConversationID: direct, Content: "  "})
	s.ErrorIs(err, apperr.ErrInvalid)

	_, err = s.svc.Send(s.as(s.alice), SendInput{ConversationID: direct, Content: "x", Kind: model.MessageSystem})
	s.ErrorIs(err, apperr.ErrInvalid)
}

func (s *ChatSuite) TestSendWithClientIDIsIdempotent() {
	direct, err := s.svc.CreateDirectConversation(s.as(s.alice), s.bob)
	s.Require().NoError(err)

	in := SendInput{ConversationID: direct, Content: "hello", ClientID: "c-1"}
	first, err := s.svc.Send(s.as(s.alice), in)
	s.Require().NoError(err)
	second, err := s.svc.Send(s.as(s.alice), in)
	s.Require().NoError(err)

	s.Equal(first.ID, second.ID)
	s.Require().NotNil(second.ClientID)
	s.Equal("c-1", *second.ClientID)
	s.Equal(1, s.participant(direct, s.bob).UnreadCount)

	// Correlation ids are scoped to their sender.
	fromBob, err := s.svc.Send(s.as(s.bob), SendInput{ConversationID: direct, Content: "hello", ClientID: "c-1"})
	s.Require().NoError(err)
	s.NotEqual(first.ID, fromBob.ID)
	s.Equal(1, s.participant(direct, s.alice).UnreadCount)
}

func (s *ChatSuite) TestSendReusingClientIDInOtherConversationConflicts() {
	withBob, err := s.svc.CreateDirectConversation(s.as(s.alice), s.bob)
	s.Require().NoError(err)
	withCarol, err := s.svc.CreateDirectConversation(s.as(s.alice), s.carol)
	s.Require().NoError(err)

	_, err = s.svc.Send(s.as(s.alice), SendInput{ConversationID: withBob, Content: "hi", ClientID: "c-1"})
	s.Require().NoError(err)

	_, err = s.svc.Send(s.as(s.alice), SendInput{ConversationID: withCarol, Content: "other", ClientID: "c-1"})
	s.ErrorIs(err, apperr.ErrConflict)

	res, err := s.svc.ListMessages(s.as(s.carol), withCarol)
	s.Require().NoError(err)
	s.Empty(res.Messages)
	s.Equal(0, s.participant(withCarol, s.carol).UnreadCount)
}

func (s *ChatSuite) TestListMessagesOrderedWithSenders() {
	group, err := s.svc.CreateGroupConversation(s.as(s.alice), "Ops", []string{s.bob})
	s.Require().NoError(err)

	for i, from := range []string{s.alice, s.bob, s.alice, s.bob} {
		_, err := s.svc.Send(s.as(from), SendInput{ConversationID: group, Content: string(rune('a' + i))})
		s.Require().NoError(err)
	}
	system := model.Message{ConversationID: group, Content: "Bob joined", Type: model.MessageSystem}
	s.Require().NoError(s.db.Create(&system).Error)

	res, err := s.svc.ListMessages(s.as(s.bob), group)
	s.Require().NoError(err)
	s.Equal(OutcomeOK, res.Outcome)
	s.Require().Len(res.Messages, 5)

	for i := 1; i < len(res.Messages); i++ {
		s.False(res.Messages[i].CreatedAt.Before(res.Messages[i-1].CreatedAt))
	}
	for _, m := range res.Messages {
		if m.SenderID == nil {
			s.Nil(m.Sender)
			continue
		}
		s.Require().NotNil(m.Sender)
		s.Contains([]string{s.alice, s.bob}, m.Sender.ID)
	}
}

func (s *ChatSuite) TestListMessagesNotParticipantIsNamedEmpty() {
	direct, err := s.svc.CreateDirectConversation(s.as(s.alice), s.bob)
	s.Require().NoError(err)
	_, err = s.svc.Send(s.as(s.alice), SendInput{ConversationID: direct, Content: "private"})
	s.Require().NoError(err)

	res, err := s.svc.ListMessages(s.as(s.carol), direct)
	s.Require().NoError(err)
	s.Equal(OutcomeNotParticipant, res.Outcome)
	s.Empty(res.Messages)

	res, err = s.svc.ListMessages(context.Background(), direct)
	s.Require().NoError(err)
	s.Equal(OutcomeAnonymous, res.Outcome)
	s.Empty(res.Messages)
}

func (s *ChatSuite) TestMarkReadResetsUnreadAndStampsRead() {
	direct, err := s.svc.CreateDirectConversation(s.as(s.alice), s.bob)
	s.Require().NoError(err)
	var last *model.MessageView
	for _, text := range []string{"one", "two", "three"} {
		last, err = s.svc.Send(s.as(s.alice), SendInput{ConversationID: direct, Content: text})
		s.Require().NoError(err)
	}
	s.Equal(3, s.participant(direct, s.bob).UnreadCount)

	s.Require().NoError(s.svc.MarkRead(s.as(s.bob), direct))

	p := s.participant(direct, s.bob)
	s.Equal(0, p.UnreadCount)
	s.Require().NotNil(p.LastReadAt)
	s.False(p.LastReadAt.Before(last.CreatedAt))

	var statuses []model.MessageStatus
	s.Require().NoError(s.db.Where("user_id = ?", s.bob).Find(&statuses).Error)
	s.Len(statuses, 3)

	s.Require().NoError(s.svc.MarkRead(s.as(s.bob), direct))
	s.ErrorIs(s.svc.MarkRead(s.as(s.carol), direct), apperr.ErrUnauthorized)
}

func (s *ChatSuite) TestMarkReadStampsSystemMessages() {
	group, err := s.svc.CreateGroupConversation(s.as(s.alice), "Ops", []string{s.bob})
	s.Require().NoError(err)
	system := model.Message{ConversationID: group, Content: "Bob joined", Type: model.MessageSystem}
	s.Require().NoError(s.db.Create(&system).Error)
	_, err = s.svc.Send(s.as(s.alice), SendInput{ConversationID: group, Content: "welcome"})
	s.Require().NoError(err)
	_, err = s.svc.Send(s.as(s.bob), SendInput{ConversationID: group, Content: "thanks"})
	s.Require().NoError(err)

	s.Require().NoError(s.svc.MarkRead(s.as(s.bob), group))

	var statuses []model.MessageStatus
	s.Require().NoError(s.db.Where("user_id = ?", s.bob).Find(&statuses).Error)
	s.Len(statuses, 2)
}

func (s *ChatSuite) TestListConversationsSortedWithUnread() {
	older, err := s.svc.CreateDirectConversation(s.as(s.alice), s.bob)
	s.Require().NoError(err)
	newer, err := s.svc.CreateDirectConversation(s.as(s.alice), s.carol)
	s.Require().NoError(err)
	empty, err := s.svc.CreateGroupConversation(s.as(s.alice), "Quiet", nil)
	s.Require().NoError(err)

	_, err = s.svc.Send(s.as(s.bob), SendInput{ConversationID: older, Content: "first"})
	s.Require().NoError(err)
	time.Sleep(5 * time.Millisecond)
	_, err = s.svc.Send(s.as(s.carol), SendInput{ConversationID: newer, Content: "second"})
	s.Require().NoError(err)

	views, err := s.svc.ListConversations(s.as(s.alice))
	s.Require().NoError(err)
	s.Require().Len(views, 3)
	s.Equal(newer, views[0].ID)
	s.Equal(older, views[1].ID)
	s.Equal(empty, views[2].ID)

	s.Equal(1, views[0].UnreadCount)
	s.Require().NotNil(views[0].LastMessage)
	s.Equal("second", views[0].LastMessage.Content)
	s.True(views[0].HasParticipant(s.carol))
	s.Len(views[0].Participants, 2)

	anon, err := s.svc.ListConversations(context.Background())
	s.Require().NoError(err)
	s.Empty(anon)
}

func (s *ChatSuite) TestEditMessageBySenderOnly() {
	direct, err := s.svc.CreateDirectConversation(s.as(s.alice), s.bob)
	s.Require().NoError(err)
	msg, err := s.svc.Send(s.as(s.alice), SendInput{ConversationID: direct, Content: "helo"})
	s.Require().NoError(err)

	_, err = s.svc.EditMessage(s.as(s.bob), msg.ID, "hijack")
	s.ErrorIs(err, apperr.ErrUnauthorized)

	edited, err := s.svc.EditMessage(s.as(s.alice), msg.ID, "hello")
	s.Require().NoError(err)
	s.True(edited.IsEdited)
	s.Equal("hello", edited.Content)

	_, err = s.svc.EditMessage(s.as(s.alice), "missing", "x")
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *ChatSuite) TestEnsureGeneralMembership() {
	ctx := context.Background()
	s.Require().NoError(s.svc.EnsureGeneralMembership(ctx, s.alice, s.bob))
	s.Require().NoError(s.svc.EnsureGeneralMembership(ctx, s.alice, s.carol))
	s.Require().NoError(s.svc.EnsureGeneralMembership(ctx, s.alice, s.carol))

	var groups []model.Conversation
	s.Require().NoError(s.db.Where("name = ?", "General").Find(&groups).Error)
	s.Require().Len(groups, 1)

	ids, err := s.svc.Participants(ctx, groups[0].ID)
	s.Require().NoError(err)
	s.ElementsMatch([]string{s.alice, s.bob, s.carol}, ids)
}

func TestUnique(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, unique([]string{"a", "", "b", "a"}))
	require.Empty(t, unique(nil))
}
