// Package chat implements the conversation and message actions. Every action
// resolves its caller from the request session; anonymous reads come back
// empty and anonymous writes fail.
package chat

import (
	"context"
	"encoding/json"
	"time"

	"uplink-service/event"
	"uplink-service/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db           *gorm.DB
	feed         event.Publisher
	log          *zap.Logger
	generalGroup string
	now          func() time.Time
}

func NewService(db *gorm.DB, feed event.Publisher, log *zap.Logger, generalGroup string) *Service {
	if feed == nil {
		feed = event.Discard{}
	}
	return &Service{
		db:           db,
		feed:         feed,
		log:          log.Named("chat"),
		generalGroup: generalGroup,
		now:          time.Now,
	}
}

func (s *Service) isParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&model.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&n).Error
	return n > 0, err
}

// Participants lists the user ids of a conversation. It does not check the
// caller and is meant for internal routing only.
func (s *Service) Participants(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&model.Participant{}).
		Where("conversation_id = ?", conversationID).
		Pluck("user_id", &ids).Error
	return ids, err
}

func (s *Service) profiles(ctx context.Context, ids []string) (map[string]model.Profile, error) {
	out := make(map[string]model.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []model.Profile
	if err := s.db.WithContext(ctx).Where("id IN ?", unique(ids)).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, p := range rows {
		out[p.ID] = p
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, table string, t event.Type, row any) {
	c, err := event.NewChange(table, t, row)
	if err == nil {
		err = s.feed.Publish(ctx, c)
	}
	if err != nil {
		s.log.Warn("publish change failed", zap.String("table", table), zap.Error(err))
	}
}

func (s *Service) publishParticipants(ctx context.Context, t event.Type, conversationID string, userIDs ...string) {
	q := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if len(userIDs) > 0 {
		q = q.Where("user_id IN ?", userIDs)
	}
	var rows []model.Participant
	if err := q.Find(&rows).Error; err != nil {
		s.log.Warn("reload participants failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	for _, p := range rows {
		s.publish(ctx, event.TableParticipants, t, p)
	}
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func jsonRow(row any) (json.RawMessage, error) {
	return json.Marshal(row)
}
