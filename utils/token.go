package utils

import (
	"errors"
	"time"

	"uplink-service/config"

	"github.com/golang-jwt/jwt/v5"
)

// Tokens struct to describe tokens object.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// TokenMetadata struct to describe metadata in JWT.
type TokenMetadata struct {
	Id   string
	Role string
	Otp  bool
	Exp  int64
}

var ErrInvalidClaims = errors.New("invalid token claims")

// TokenIssuer signs and checks HS512 access and refresh tokens.
type TokenIssuer struct {
	accessKey     []byte
	refreshKey    []byte
	accessExpire  time.Duration
	refreshExpire time.Duration
}

func NewTokenIssuer(cfg config.JWTConfig) *TokenIssuer {
	return &TokenIssuer{
		accessKey:     []byte(cfg.AccessKey),
		refreshKey:    []byte(cfg.RefreshKey),
		accessExpire:  time.Duration(cfg.AccessExpire) * time.Minute,
		refreshExpire: time.Duration(cfg.RefreshExpire) * time.Minute,
	}
}

func (i *TokenIssuer) AccessKey() []byte { return i.accessKey }

func (i *TokenIssuer) RefreshTTL() time.Duration { return i.refreshExpire }

// GenerateTokens func for generate a new Access & Refresh tokens.
// otp marks a session that still has to pass the second factor.
func (i *TokenIssuer) GenerateTokens(id, role string, otp bool) (*Tokens, error) {
	accessToken, err := generateToken(id, role, otp, i.accessExpire, i.accessKey)
	if err != nil {
		return nil, err
	}

	refreshToken, err := generateToken(id, role, otp, i.refreshExpire, i.refreshKey)
	if err != nil {
		return nil, err
	}

	return &Tokens{
		Access:  accessToken,
		Refresh: refreshToken,
	}, nil
}

func generateToken(id, role string, otp bool, expire time.Duration, key []byte) (string, error) {
	claims := jwt.MapClaims{}

	claims["id"] = id
	claims["role"] = role
	claims["otp"] = otp
	claims["exp"] = time.Now().Add(expire).Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString(key)
}

func (i *TokenIssuer) CheckAccess(token string) (*TokenMetadata, error) {
	return checkAndExtractTokenMetadata(token, i.accessKey)
}

func (i *TokenIssuer) CheckRefresh(token string) (*TokenMetadata, error) {
	return checkAndExtractTokenMetadata(token, i.refreshKey)
}

func checkAndExtractTokenMetadata(token string, key []byte) (*TokenMetadata, error) {
	t, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return nil, ErrInvalidClaims
	}
	return MetadataFromClaims(claims)
}

// MetadataFromClaims reads the service claims out of a parsed token.
func MetadataFromClaims(claims jwt.MapClaims) (*TokenMetadata, error) {
	id, ok := claims["id"].(string)
	if !ok || id == "" {
		return nil, ErrInvalidClaims
	}
	role, _ := claims["role"].(string)
	otp, _ := claims["otp"].(bool)
	exp, _ := claims["exp"].(float64)

	return &TokenMetadata{
		Id:   id,
		Role: role,
		Otp:  otp,
		Exp:  int64(exp),
	}, nil
}
