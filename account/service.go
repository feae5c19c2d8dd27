// Package account covers sign-in, tokens, profiles, team administration
// and the forced password change.
package account

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"uplink-service/event"
	"uplink-service/utils"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// GeneralJoiner adds a new teammate to the team-wide conversation.
type GeneralJoiner interface {
	EnsureGeneralMembership(ctx context.Context, adminID, userID string) error
}

type Service struct {
	db         *gorm.DB
	tokens     TokenStore
	issuer     *utils.TokenIssuer
	general    GeneralJoiner
	feed       event.Publisher
	log        *zap.Logger
	otpIssuer  string
	bcryptCost int
	now        func() time.Time
}

func NewService(db *gorm.DB, tokens TokenStore, issuer *utils.TokenIssuer, general GeneralJoiner, feed event.Publisher, log *zap.Logger, otpIssuer string) *Service {
	if feed == nil {
		feed = event.Discard{}
	}
	return &Service{
		db:         db,
		tokens:     tokens,
		issuer:     issuer,
		general:    general,
		feed:       feed,
		log:        log.Named("account"),
		otpIssuer:  otpIssuer,
		bcryptCost: 14,
		now:        time.Now,
	}
}

func (s *Service) hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	return string(h), err
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

const (
	MinPasswordLength = 8
	tempPasswordChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"
	tempPasswordLen   = 12
)

// TemporaryPassword returns a random password handed to invited or reset
// members. They must replace it on first sign-in.
func TemporaryPassword() (string, error) {
	max := big.NewInt(int64(len(tempPasswordChars)))
	out := make([]byte, tempPasswordLen)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = tempPasswordChars[n.Int64()]
	}
	return string(out), nil
}
