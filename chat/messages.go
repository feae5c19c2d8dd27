package chat

import (
	"context"
	"strings"

	"uplink-service/apperr"
	"uplink-service/event"
	"uplink-service/metrics"
	"uplink-service/model"
	"uplink-service/session"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Outcome string

const (
	OutcomeOK Outcome = "ok"
	// OutcomeNotParticipant hides whether the conversation exists.
	OutcomeNotParticipant Outcome = "not_participant"
	OutcomeAnonymous      Outcome = "anonymous"
)

// MessagesResult separates "no messages" from "not allowed to see any".
// Store failures are returned as errors instead.
type MessagesResult struct {
	Messages []model.MessageView `json:"messages"`
	Outcome  Outcome             `json:"outcome"`
}

type SendInput struct {
	ConversationID string  `json:"conversation_id"`
	Content        string  `json:"content"`
	Kind           string  `json:"type"`
	FileURL        *string `json:"file_url"`
	ReplyToID      *string `json:"reply_to_id"`
	// ClientID is the sender's correlation id, echoed back on the insert
	// event so the optimistic copy can be matched exactly.
	ClientID string `json:"client_id"`
}

// ListMessages returns the conversation's messages oldest first, each with
// its sender profile.
func (s *Service) ListMessages(ctx context.Context, conversationID string) (MessagesResult, error) {
	sess := session.FromContext(ctx)
	if sess == nil {
		return MessagesResult{Messages: []model.MessageView{}, Outcome: OutcomeAnonymous}, nil
	}

	member, err := s.isParticipant(ctx, conversationID, sess.UserID)
	if err != nil {
		s.log.Error("list messages: membership", zap.String("conversation_id", conversationID), zap.Error(err))
		return MessagesResult{}, apperr.Upstream("failed to load messages", err)
	}
	if !member {
		s.log.Info("list messages: caller is not a participant",
			zap.String("conversation_id", conversationID),
			zap.String("user_id", sess.UserID))
		return MessagesResult{Messages: []model.MessageView{}, Outcome: OutcomeNotParticipant}, nil
	}

	var rows []model.Message
	err = s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		s.log.Error("list messages", zap.String("conversation_id", conversationID), zap.Error(err))
		return MessagesResult{}, apperr.Upstream("failed to load messages", err)
	}

	senders := make([]string, 0, len(rows))
	for _, m := range rows {
		if m.SenderID != nil {
			senders = append(senders, *m.SenderID)
		}
	}
	profiles, err := s.profiles(ctx, senders)
	if err != nil {
		s.log.Error("list messages: senders", zap.String("conversation_id", conversationID), zap.Error(err))
		return MessagesResult{}, apperr.Upstream("failed to load messages", err)
	}

	views := make([]model.MessageView, 0, len(rows))
	for _, m := range rows {
		views = append(views, *hydrate(m, profiles))
	}
	return MessagesResult{Messages: views, Outcome: OutcomeOK}, nil
}

// Send stores a message, moves the conversation's last-message pointer and
// bumps every other participant's unread count in one UPDATE. Resending with
// the same ClientID returns the stored message.
func (s *Service) Send(ctx context.Context, in SendInput) (*model.MessageView, error) {
	sess := session.FromContext(ctx)
	if sess == nil {
		return nil, apperr.ErrUnauthenticated
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, apperr.Invalid("message content is required")
	}
	if in.Kind == "" {
		in.Kind = model.MessageText
	}
	if !model.ValidMessageKind(in.Kind) {
		return nil, apperr.Invalid("unsupported message type")
	}

	member, err := s.isParticipant(ctx, in.ConversationID, sess.UserID)
	if err != nil {
		return nil, apperr.Upstream("failed to check membership", err)
	}
	if !member {
		return nil, apperr.Unauthorized("not a participant of this conversation")
	}

	if in.ClientID != "" {
		if existing, err := s.byClientID(ctx, sess.UserID, in.ClientID); err != nil {
			return nil, apperr.Upstream("failed to send message", err)
		} else if existing != nil {
			return s.replay(ctx, existing, in, sess.UserID)
		}
	}

	msg := model.Message{
		ConversationID: in.ConversationID,
		SenderID:       &sess.UserID,
		Content:        in.Content,
		Type:           in.Kind,
		FileURL:        in.FileURL,
		ReplyToID:      in.ReplyToID,
	}
	if in.ClientID != "" {
		msg.ClientID = &in.ClientID
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		err := tx.Model(&model.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Updates(map[string]any{
				"last_message_id": msg.ID,
				"last_message_at": msg.CreatedAt,
				"updated_at":      s.now(),
			}).Error
		if err != nil {
			return err
		}
		return tx.Model(&model.Participant{}).
			Where("conversation_id = ? AND user_id <> ?", msg.ConversationID, sess.UserID).
			UpdateColumn("unread_count", gorm.Expr("unread_count + ?", 1)).Error
	})
	if err != nil {
		// A retry with the same correlation id may have won the insert.
		if in.ClientID != "" {
			if existing, lookupErr := s.byClientID(ctx, sess.UserID, in.ClientID); lookupErr == nil && existing != nil {
				return s.replay(ctx, existing, in, sess.UserID)
			}
		}
		s.log.Error("send message", zap.String("conversation_id", in.ConversationID), zap.Error(err))
		return nil, apperr.Upstream("failed to send message", err)
	}
	metrics.MessagesSent.Inc()

	s.publish(ctx, event.TableMessages, event.Insert, msg)
	var conversation model.Conversation
	if err := s.db.WithContext(ctx).First(&conversation, "id = ?", msg.ConversationID).Error; err == nil {
		s.publish(ctx, event.TableConversations, event.Update, conversation)
	}
	others, _ := s.Participants(ctx, msg.ConversationID)
	recipients := make([]string, 0, len(others))
	for _, id := range others {
		if id != sess.UserID {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) > 0 {
		s.publishParticipants(ctx, event.Update, msg.ConversationID, recipients...)
	}

	profiles, _ := s.profiles(ctx, []string{sess.UserID})
	return hydrate(msg, profiles), nil
}

// byClientID finds the message senderID already stored under clientID.
// Correlation ids are unique per sender.
func (s *Service) byClientID(ctx context.Context, senderID, clientID string) (*model.Message, error) {
	var m model.Message
	res := s.db.WithContext(ctx).Where("sender_id = ? AND client_id = ?", senderID, clientID).Limit(1).Find(&m)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &m, nil
}

// replay answers a retried send with the stored message. A correlation id
// reused for another conversation is a conflict, never a silent success.
func (s *Service) replay(ctx context.Context, m *model.Message, in SendInput, userID string) (*model.MessageView, error) {
	if !m.SentBy(userID) || m.ConversationID != in.ConversationID {
		return nil, apperr.Conflict("client id already used")
	}
	profiles, _ := s.profiles(ctx, []string{userID})
	return hydrate(*m, profiles), nil
}

// MarkRead zeroes the caller's unread count, stamps last_read_at and records
// a read status for every message from others since the previous read.
func (s *Service) MarkRead(ctx context.Context, conversationID string) error {
	sess := session.FromContext(ctx)
	if sess == nil {
		return apperr.ErrUnauthenticated
	}

	var participant model.Participant
	res := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, sess.UserID).
		Limit(1).Find(&participant)
	if res.Error != nil {
		return apperr.Upstream("failed to check membership", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Unauthorized("not a participant of this conversation")
	}

	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.Participant{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, sess.UserID).
			Updates(map[string]any{"last_read_at": now, "unread_count": 0}).Error
		if err != nil {
			return err
		}

		q := tx.Model(&model.Message{}).
			Where("conversation_id = ? AND (sender_id IS NULL OR sender_id <> ?)", conversationID, sess.UserID)
		if participant.LastReadAt != nil {
			q = q.Where("created_at > ?", *participant.LastReadAt)
		}
		var ids []string
		if err := q.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		statuses := make([]model.MessageStatus, 0, len(ids))
		for _, id := range ids {
			statuses = append(statuses, model.MessageStatus{MessageID: id, UserID: sess.UserID, Status: "read", UpdatedAt: now})
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
		}).Create(&statuses).Error
	})
	if err != nil {
		s.log.Error("mark read", zap.String("conversation_id", conversationID), zap.Error(err))
		return apperr.Upstream("failed to mark conversation read", err)
	}

	s.publishParticipants(ctx, event.Update, conversationID, sess.UserID)
	return nil
}

// EditMessage replaces the content of one of the caller's own messages.
func (s *Service) EditMessage(ctx context.Context, messageID, content string) (*model.MessageView, error) {
	sess := session.FromContext(ctx)
	if sess == nil {
		return nil, apperr.ErrUnauthenticated
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Invalid("message content is required")
	}

	var msg model.Message
	res := s.db.WithContext(ctx).Where("id = ?", messageID).Limit(1).Find(&msg)
	if res.Error != nil {
		return nil, apperr.Upstream("failed to load message", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound("message not found")
	}
	if !msg.SentBy(sess.UserID) {
		return nil, apperr.Unauthorized("only the sender can edit a message")
	}

	old := msg
	err := s.db.WithContext(ctx).Model(&msg).Updates(map[string]any{
		"content":   content,
		"is_edited": true,
	}).Error
	if err != nil {
		return nil, apperr.Upstream("failed to edit message", err)
	}
	msg.Content = content
	msg.IsEdited = true

	c, err := event.NewChange(event.TableMessages, event.Update, msg)
	if err == nil {
		c.Old, _ = jsonRow(old)
		err = s.feed.Publish(ctx, c)
	}
	if err != nil {
		s.log.Warn("publish change failed", zap.String("table", event.TableMessages), zap.Error(err))
	}

	profiles, _ := s.profiles(ctx, []string{sess.UserID})
	return hydrate(msg, profiles), nil
}

func hydrate(m model.Message, profiles map[string]model.Profile) *model.MessageView {
	view := &model.MessageView{Message: m}
	if m.SenderID != nil {
		if p, ok := profiles[*m.SenderID]; ok {
			view.Sender = &p
		}
	}
	return view
}
