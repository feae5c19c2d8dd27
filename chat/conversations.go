package chat

import (
	"context"
	"strings"

	"uplink-service/apperr"
	"uplink-service/event"
	"uplink-service/model"
	"uplink-service/session"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ListConversations returns every conversation the caller belongs to with
// participants, last message and the caller's unread count.
func (s *Service) ListConversations(ctx context.Context) ([]model.ConversationView, error) {
	sess := session.FromContext(ctx)
	if sess == nil {
		return []model.ConversationView{}, nil
	}
	db := s.db.WithContext(ctx)

	var ids []string
	if err := db.Model(&model.Participant{}).Where("user_id = ?", sess.UserID).Pluck("conversation_id", &ids).Error; err != nil {
		s.log.Error("list conversations: memberships", zap.String("user_id", sess.UserID), zap.Error(err))
		return nil, apperr.Upstream("failed to load conversations", err)
	}
	if len(ids) == 0 {
		return []model.ConversationView{}, nil
	}

	var conversations []model.Conversation
	if err := db.Where("id IN ?", ids).Find(&conversations).Error; err != nil {
		s.log.Error("list conversations", zap.String("user_id", sess.UserID), zap.Error(err))
		return nil, apperr.Upstream("failed to load conversations", err)
	}

	var participants []model.Participant
	if err := db.Where("conversation_id IN ?", ids).Find(&participants).Error; err != nil {
		s.log.Error("list conversations: participants", zap.String("user_id", sess.UserID), zap.Error(err))
		return nil, apperr.Upstream("failed to load conversations", err)
	}

	userIDs := make([]string, 0, len(participants))
	for _, p := range participants {
		userIDs = append(userIDs, p.UserID)
	}

	var lastIDs []string
	for _, c := range conversations {
		if c.LastMessageID != nil {
			lastIDs = append(lastIDs, *c.LastMessageID)
		}
	}
	lastMessages := make(map[string]model.Message, len(lastIDs))
	if len(lastIDs) > 0 {
		var rows []model.Message
		if err := db.Where("id IN ?", lastIDs).Find(&rows).Error; err != nil {
			s.log.Error("list conversations: last messages", zap.String("user_id", sess.UserID), zap.Error(err))
			return nil, apperr.Upstream("failed to load conversations", err)
		}
		for _, m := range rows {
			lastMessages[m.ID] = m
			if m.SenderID != nil {
				userIDs = append(userIDs, *m.SenderID)
			}
		}
	}

	profiles, err := s.profiles(ctx, userIDs)
	if err != nil {
		s.log.Error("list conversations: profiles", zap.String("user_id", sess.UserID), zap.Error(err))
		return nil, apperr.Upstream("failed to load conversations", err)
	}

	byConversation := make(map[string][]model.Participant)
	for _, p := range participants {
		byConversation[p.ConversationID] = append(byConversation[p.ConversationID], p)
	}

	views := make([]model.ConversationView, 0, len(conversations))
	for _, c := range conversations {
		view := model.ConversationView{Conversation: c, Participants: []model.ParticipantProfile{}}
		for _, p := range byConversation[c.ID] {
			profile, ok := profiles[p.UserID]
			if !ok {
				profile = model.Profile{ID: p.UserID}
			}
			view.Participants = append(view.Participants, model.ParticipantProfile{Profile: profile, LastReadAt: p.LastReadAt})
			if p.UserID == sess.UserID {
				view.UnreadCount = p.UnreadCount
			}
		}
		if c.LastMessageID != nil {
			if m, ok := lastMessages[*c.LastMessageID]; ok {
				view.LastMessage = hydrate(m, profiles)
			}
		}
		views = append(views, view)
	}

	model.SortConversations(views)
	return views, nil
}

// CreateDirectConversation returns the direct conversation between the caller
// and otherUserID, creating it if needed. The pair key is unique, so a
// concurrent creator loses the insert and both callers get the same id.
func (s *Service) CreateDirectConversation(ctx context.Context, otherUserID string) (string, error) {
	sess := session.FromContext(ctx)
	if sess == nil {
		return "", apperr.ErrUnauthenticated
	}
	if otherUserID == "" || otherUserID == sess.UserID {
		return "", apperr.Invalid("cannot start a conversation with yourself")
	}

	exists, err := s.profileExists(ctx, otherUserID)
	if err != nil {
		return "", apperr.Upstream("failed to look up user", err)
	}
	if !exists {
		return "", apperr.NotFound("user not found")
	}

	key := model.DirectKey(sess.UserID, otherUserID)
	if id, err := s.directByKey(ctx, key); err != nil {
		return "", apperr.Upstream("failed to look up conversation", err)
	} else if id != "" {
		return id, nil
	}

	conversation := model.Conversation{
		Type:      model.ConversationDirect,
		CreatedBy: &sess.UserID,
		DirectKey: &key,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conversation).Error; err != nil {
			return err
		}
		pair := []model.Participant{
			{ConversationID: conversation.ID, UserID: sess.UserID},
			{ConversationID: conversation.ID, UserID: otherUserID},
		}
		return tx.Create(&pair).Error
	})
	if err != nil {
		// Lost the race to a concurrent creator: the winner's row is there now.
		if id, lookupErr := s.directByKey(ctx, key); lookupErr == nil && id != "" {
			s.log.Info("direct conversation created concurrently", zap.String("conversation_id", id))
			return id, nil
		}
		return "", apperr.Upstream("failed to create conversation", err)
	}

	s.publish(ctx, event.TableConversations, event.Insert, conversation)
	s.publishParticipants(ctx, event.Insert, conversation.ID)
	return conversation.ID, nil
}

func (s *Service) directByKey(ctx context.Context, key string) (string, error) {
	var c model.Conversation
	res := s.db.WithContext(ctx).Where("direct_key = ?", key).Limit(1).Find(&c)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", nil
	}
	return c.ID, nil
}

func (s *Service) profileExists(ctx context.Context, id string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Profile{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

// CreateGroupConversation creates a named group with the caller and members.
func (s *Service) CreateGroupConversation(ctx context.Context, name string, memberIDs []string) (string, error) {
	sess := session.FromContext(ctx)
	if sess == nil {
		return "", apperr.ErrUnauthenticated
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Invalid("group name is required")
	}

	members := unique(append([]string{sess.UserID}, memberIDs...))
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Profile{}).Where("id IN ?", members).Count(&n).Error; err != nil {
		return "", apperr.Upstream("failed to look up members", err)
	}
	if int(n) != len(members) {
		return "", apperr.NotFound("one or more members not found")
	}

	conversation := model.Conversation{
		Type:      model.ConversationGroup,
		Name:      &name,
		CreatedBy: &sess.UserID,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conversation).Error; err != nil {
			return err
		}
		rows := make([]model.Participant, 0, len(members))
		for _, id := range members {
			rows = append(rows, model.Participant{ConversationID: conversation.ID, UserID: id})
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return "", apperr.Upstream("failed to create group", err)
	}

	s.publish(ctx, event.TableConversations, event.Insert, conversation)
	s.publishParticipants(ctx, event.Insert, conversation.ID)
	return conversation.ID, nil
}

// EnsureGeneralMembership adds userID to the team-wide group, creating the
// group with adminID as its first member when it does not exist yet.
func (s *Service) EnsureGeneralMembership(ctx context.Context, adminID, userID string) error {
	db := s.db.WithContext(ctx)

	var general model.Conversation
	res := db.Where("type = ? AND name = ?", model.ConversationGroup, s.generalGroup).
		Order("created_at ASC").Limit(1).Find(&general)
	if res.Error != nil {
		return apperr.Upstream("failed to look up general group", res.Error)
	}

	if res.RowsAffected == 0 {
		name := s.generalGroup
		general = model.Conversation{Type: model.ConversationGroup, Name: &name, CreatedBy: &adminID}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&general).Error; err != nil {
				return err
			}
			return tx.Create(&model.Participant{ConversationID: general.ID, UserID: adminID}).Error
		})
		if err != nil {
			return apperr.Upstream("failed to create general group", err)
		}
		s.publish(ctx, event.TableConversations, event.Insert, general)
	}

	res = db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Participant{ConversationID: general.ID, UserID: userID})
	if res.Error != nil {
		return apperr.Upstream("failed to join general group", res.Error)
	}
	if res.RowsAffected > 0 {
		s.publishParticipants(ctx, event.Insert, general.ID, userID)
	}
	return nil
}
