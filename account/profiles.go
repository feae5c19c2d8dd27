package account

import (
	"context"
	"errors"

	"uplink-service/apperr"
	"uplink-service/event"
	"uplink-service/model"
	"uplink-service/session"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GetProfile returns userID's profile, or the caller's when userID is empty.
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	sess := session.FromContext(ctx)
	if sess == nil {
		return nil, apperr.ErrUnauthenticated
	}
	if userID == "" {
		userID = sess.UserID
	}

	var profile model.Profile
	if err := s.db.WithContext(ctx).First(&profile, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("profile not found")
		}
		return nil, apperr.Upstream("failed to load profile", err)
	}
	return &profile, nil
}

// ListProfiles returns every teammate ordered by display name.
func (s *Service) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	if session.FromContext(ctx) == nil {
		return []model.Profile{}, nil
	}
	var profiles []model.Profile
	if err := s.db.WithContext(ctx).Order("display_name ASC").Find(&profiles).Error; err != nil {
		s.log.Error("list profiles", zap.Error(err))
		return nil, apperr.Upstream("failed to load profiles", err)
	}
	return profiles, nil
}

// UpdateProfile changes the caller's self-service fields.
func (s *Service) UpdateProfile(ctx context.Context, in model.ProfileUpdate) (*model.Profile, error) {
	sess := session.FromContext(ctx)
	if sess == nil {
		return nil, apperr.ErrUnauthenticated
	}
	cols := in.Columns()
	if len(cols) == 0 {
		return s.GetProfile(ctx, sess.UserID)
	}
	cols["updated_at"] = s.now()

	res := s.db.WithContext(ctx).Model(&model.Profile{}).Where("id = ?", sess.UserID).Updates(cols)
	if res.Error != nil {
		return nil, apperr.Upstream("failed to update profile", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound("profile not found")
	}

	profile, err := s.GetProfile(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, event.TableProfiles, event.Update, profile)
	return profile, nil
}

// Heartbeat records that the caller is still around.
func (s *Service) Heartbeat(ctx context.Context, status string) error {
	sess := session.FromContext(ctx)
	if sess == nil {
		return apperr.ErrUnauthenticated
	}
	if status == "" {
		status = model.StatusOnline
	}
	return s.setStatus(ctx, sess.UserID, status)
}

// SetPresence persists the live presence of userID. It is called by the
// socket layer and does not check the caller.
func (s *Service) SetPresence(ctx context.Context, userID string, online bool) error {
	status := model.StatusOffline
	if online {
		status = model.StatusOnline
	}
	return s.setStatus(ctx, userID, status)
}

func (s *Service) setStatus(ctx context.Context, userID, status string) error {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&model.Profile{}).Where("id = ?", userID).Updates(map[string]any{
		"status":     status,
		"last_seen":  now,
		"updated_at": now,
	})
	if res.Error != nil {
		return apperr.Upstream("failed to update status", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("profile not found")
	}
	s.publishProfile(ctx, userID)
	return nil
}
