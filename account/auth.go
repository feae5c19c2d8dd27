package account

import (
	"context"
	"errors"
	"strings"

	"uplink-service/apperr"
	"uplink-service/event"
	"uplink-service/model"
	"uplink-service/session"
	"uplink-service/utils"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type SignInResult struct {
	Tokens              *utils.Tokens `json:"tokens"`
	TwoFactor           bool          `json:"2fa"`
	ForcePasswordChange bool          `json:"force_password_change"`
}

var errBadCredentials = apperr.New(apperr.KindUnauthenticated, "Invalid email or password")

func (s *Service) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	var user model.User
	res := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).Limit(1).Find(&user)
	if res.Error != nil {
		return nil, apperr.Upstream("failed to sign in", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, errBadCredentials
	}
	return s.issue(ctx, user.ID, user.Role, user.OtpEnabled)
}

// RenewTokens rotates a refresh token. Each refresh token works once.
func (s *Service) RenewTokens(ctx context.Context, refresh string) (*SignInResult, error) {
	claims, err := s.issuer.CheckRefresh(refresh)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthenticated, "Invalid token", err)
	}

	stored, err := s.tokens.Get(ctx, claims.Id)
	if errors.Is(err, ErrTokenNotFound) || (err == nil && stored != refresh) {
		return nil, apperr.New(apperr.KindUnauthenticated, "Unauthorized, your refresh token was already used")
	}
	if err != nil {
		return nil, apperr.Upstream("failed to renew token", err)
	}

	// Role changes take effect on the next renewal.
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", claims.Id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindUnauthenticated, "account no longer exists")
		}
		return nil, apperr.Upstream("failed to renew token", err)
	}
	return s.issue(ctx, user.ID, user.Role, claims.Otp)
}

func (s *Service) issue(ctx context.Context, userID, role string, otp bool) (*SignInResult, error) {
	tokens, err := s.issuer.GenerateTokens(userID, role, otp)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Internal server error", err)
	}
	if err := s.tokens.Save(ctx, userID, tokens.Refresh, s.issuer.RefreshTTL()); err != nil {
		return nil, apperr.Upstream("failed to store session", err)
	}

	force, err := s.ForcePasswordChange(ctx, userID)
	if err != nil {
		s.log.Warn("read password flag", zap.String("user_id", userID), zap.Error(err))
	}
	return &SignInResult{Tokens: tokens, TwoFactor: otp, ForcePasswordChange: force}, nil
}

func (s *Service) SignOut(ctx context.Context) error {
	sess := session.FromContext(ctx)
	if sess == nil {
		return apperr.ErrUnauthenticated
	}
	if err := s.tokens.Delete(ctx, sess.UserID); err != nil {
		return apperr.Upstream("failed to sign out", err)
	}
	return nil
}

// ForcePasswordChange reports whether userID still signs in with a
// temporary password.
func (s *Service) ForcePasswordChange(ctx context.Context, userID string) (bool, error) {
	var profile model.Profile
	res := s.db.WithContext(ctx).Select("force_password_change").Where("id = ?", userID).Limit(1).Find(&profile)
	if res.Error != nil {
		return false, res.Error
	}
	return profile.ForcePasswordChange, nil
}

// UpdatePassword sets the caller's password and lifts the forced change.
func (s *Service) UpdatePassword(ctx context.Context, password string) error {
	sess := session.FromContext(ctx)
	if sess == nil {
		return apperr.ErrUnauthenticated
	}
	if len(password) < MinPasswordLength {
		return apperr.Invalid("password must be at least 8 characters")
	}

	hash, err := s.hash(password)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "Internal server error", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.User{}).Where("id = ?", sess.UserID).Update("password", hash)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("user not found")
		}
		return tx.Model(&model.Profile{}).Where("id = ?", sess.UserID).Update("force_password_change", false).Error
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return err
		}
		return apperr.Upstream("failed to update password", err)
	}

	s.publishProfile(ctx, sess.UserID)
	return nil
}

func (s *Service) publishProfile(ctx context.Context, userID string) {
	var profile model.Profile
	if err := s.db.WithContext(ctx).First(&profile, "id = ?", userID).Error; err != nil {
		s.log.Warn("reload profile", zap.String("user_id", userID), zap.Error(err))
		return
	}
	s.publish(ctx, event.TableProfiles, event.Update, profile)
}
