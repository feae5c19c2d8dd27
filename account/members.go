package account

import (
	"context"
	"net/mail"
	"strings"

	"uplink-service/apperr"
	"uplink-service/event"
	"uplink-service/model"
	"uplink-service/session"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type InviteInput struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	About       string `json:"about"`
}

// Invitation is handed back to the inviting admin, who passes the temporary
// password on to the new teammate.
type Invitation struct {
	UserID            string `json:"user_id"`
	Email             string `json:"email"`
	TemporaryPassword string `json:"temporary_password"`
}

func requireAdmin(ctx context.Context) (*session.Session, error) {
	sess := session.FromContext(ctx)
	if sess == nil {
		return nil, apperr.ErrUnauthenticated
	}
	if sess.Role != model.RoleAdmin {
		return nil, apperr.Unauthorized("admin role required")
	}
	return sess, nil
}

// InviteMember creates an account with a temporary password that must be
// changed on first sign-in, and adds it to the team-wide conversation.
func (s *Service) InviteMember(ctx context.Context, in InviteInput) (*Invitation, error) {
	sess, err := requireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(in.Email))
	if err != nil {
		return nil, apperr.Invalid("invalid email address")
	}
	email := strings.ToLower(addr.Address)
	if in.Role == "" {
		in.Role = model.RoleMember
	}
	if !model.ValidRole(in.Role) {
		return nil, apperr.Invalid("unknown role")
	}

	var n int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Where("email = ?", email).Count(&n).Error; err != nil {
		return nil, apperr.Upstream("failed to invite member", err)
	}
	if n > 0 {
		return nil, apperr.Conflict("Email is already registered")
	}

	temp, err := TemporaryPassword()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Internal server error", err)
	}
	hash, err := s.hash(temp)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Internal server error", err)
	}

	user := model.User{Email: email, Password: hash, Role: in.Role}
	status := model.StatusOffline
	profile := model.Profile{Email: email, Status: &status, ForcePasswordChange: true}
	if name := strings.TrimSpace(in.DisplayName); name != "" {
		profile.DisplayName = &name
	}
	if about := strings.TrimSpace(in.About); about != "" {
		profile.About = &about
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		profile.ID = user.ID
		return tx.Create(&profile).Error
	})
	if err != nil {
		return nil, apperr.Upstream("failed to invite member", err)
	}
	s.log.Info("member invited", zap.String("user_id", user.ID), zap.String("role", user.Role), zap.String("by", sess.UserID))
	s.publish(ctx, event.TableProfiles, event.Insert, profile)

	if s.general != nil {
		if err := s.general.EnsureGeneralMembership(ctx, sess.UserID, user.ID); err != nil {
			s.log.Warn("join general group", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	return &Invitation{UserID: user.ID, Email: email, TemporaryPassword: temp}, nil
}

// DeleteMember removes the account and its profile. Messages stay, with the
// sender cleared.
func (s *Service) DeleteMember(ctx context.Context, userID string) error {
	sess, err := requireAdmin(ctx)
	if err != nil {
		return err
	}
	if userID == sess.UserID {
		return apperr.Invalid("you cannot delete your own account")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", userID).Delete(&model.User{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("user not found")
		}
		if err := tx.Where("user_id = ?", userID).Delete(&model.Participant{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&model.MessageStatus{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Message{}).Where("sender_id = ?", userID).Update("sender_id", nil).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", userID).Delete(&model.Profile{}).Error
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return err
		}
		return apperr.Upstream("failed to delete member", err)
	}

	if err := s.tokens.Delete(ctx, userID); err != nil {
		s.log.Warn("revoke refresh token", zap.String("user_id", userID), zap.Error(err))
	}
	s.log.Info("member deleted", zap.String("user_id", userID), zap.String("by", sess.UserID))
	return nil
}

// ResetPassword issues a new temporary password and forces a change on the
// next sign-in. Existing sessions can no longer renew.
func (s *Service) ResetPassword(ctx context.Context, userID string) (string, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return "", err
	}

	temp, err := TemporaryPassword()
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "Internal server error", err)
	}
	hash, err := s.hash(temp)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "Internal server error", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.User{}).Where("id = ?", userID).Update("password", hash)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("user not found")
		}
		return tx.Model(&model.Profile{}).Where("id = ?", userID).Update("force_password_change", true).Error
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return "", err
		}
		return "", apperr.Upstream("failed to reset password", err)
	}

	if err := s.tokens.Delete(ctx, userID); err != nil {
		s.log.Warn("revoke refresh token", zap.String("user_id", userID), zap.Error(err))
	}
	s.publishProfile(ctx, userID)
	return temp, nil
}

// Bootstrap creates the first admin when the users table is empty.
func (s *Service) Bootstrap(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	email = strings.ToLower(email)
	user := model.User{Email: email, Password: hash, Role: model.RoleAdmin}
	status := model.StatusOffline
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return tx.Create(&model.Profile{ID: user.ID, Email: email, Status: &status}).Error
	})
}
