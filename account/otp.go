package account

import (
	"context"
	"errors"

	"uplink-service/apperr"
	"uplink-service/model"
	"uplink-service/session"
	"uplink-service/utils"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type OtpSecret struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

func (s *Service) caller(ctx context.Context) (*model.User, error) {
	sess := session.FromContext(ctx)
	if sess == nil {
		return nil, apperr.ErrUnauthenticated
	}
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", sess.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, apperr.Upstream("failed to load user", err)
	}
	return &user, nil
}

// OtpSecret returns the caller's TOTP secret, generating it on first use.
func (s *Service) OtpSecret(ctx context.Context, password string) (*OtpSecret, error) {
	user, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, apperr.Invalid("Invalid password")
	}

	if user.OtpSecret != "" {
		return &OtpSecret{Secret: user.OtpSecret, URL: otpURL(s.otpIssuer, user.Email, user.OtpSecret)}, nil
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.otpIssuer,
		AccountName: user.Email,
		SecretSize:  15,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Internal server error", err)
	}
	if err := s.db.WithContext(ctx).Model(user).Update("otp_secret", key.Secret()).Error; err != nil {
		return nil, apperr.Upstream("failed to store secret", err)
	}
	return &OtpSecret{Secret: key.Secret(), URL: key.URL()}, nil
}

func otpURL(issuer, account, secret string) string {
	return "otpauth://totp/" + issuer + ":" + account +
		"?algorithm=SHA1&digits=6&issuer=" + issuer + "&period=30&secret=" + secret
}

// OtpVerify turns 2FA on once the caller proves the authenticator works.
func (s *Service) OtpVerify(ctx context.Context, token string) error {
	user, err := s.caller(ctx)
	if err != nil {
		return err
	}
	if user.OtpEnabled {
		return apperr.Conflict("Verification has already been performed earlier")
	}
	if user.OtpSecret == "" || !totp.Validate(token, user.OtpSecret) {
		return apperr.Invalid("Invalid token")
	}
	if err := s.db.WithContext(ctx).Model(user).Update("otp_enabled", true).Error; err != nil {
		return apperr.Upstream("failed to enable 2FA", err)
	}
	return nil
}

// OtpValidate completes a 2FA sign-in and issues full tokens.
func (s *Service) OtpValidate(ctx context.Context, token string) (*utils.Tokens, error) {
	user, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if !user.OtpEnabled {
		return nil, apperr.Invalid("2FA has been disabled")
	}
	if !totp.Validate(token, user.OtpSecret) {
		return nil, apperr.Invalid("Invalid token")
	}
	res, err := s.issue(ctx, user.ID, user.Role, false)
	if err != nil {
		return nil, err
	}
	return res.Tokens, nil
}

func (s *Service) OtpDisable(ctx context.Context, password, token string) error {
	user, err := s.caller(ctx)
	if err != nil {
		return err
	}
	if !user.OtpEnabled {
		return apperr.Invalid("2fa not enabled")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return apperr.Invalid("Invalid password")
	}
	if !totp.Validate(token, user.OtpSecret) {
		return apperr.Invalid("Invalid token")
	}
	if err := s.db.WithContext(ctx).Model(user).Update("otp_enabled", false).Error; err != nil {
		return apperr.Upstream("failed to disable 2FA", err)
	}
	return nil
}
