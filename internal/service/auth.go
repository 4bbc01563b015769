package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"retryflow/internal/dto/req"
	"retryflow/internal/dto/resp"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	SessionKeyPrefix       = "retryflow:auth:session:"
	Issuer                 = "retryflow"
	adminUserID            = "1"
	adminRole              = "admin"

	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrSessionExpired     = errors.New("session expired")
)

type AuthConfig struct {
	SigningKey      []byte
	AdminUser       string
	AdminPassword   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// AuthService issues operator tokens. Refresh tokens are allow-listed in
// redis, one live session per operator.
type AuthService struct {
	redis redis.Cmdable
	cfg   AuthConfig
	now   func() time.Time
}

type UserClaims struct {
	UserID   string `json:"uid"`
	Username string `json:"sub"`
	Role     string `json:"role"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

func NewAuthService(rdb redis.Cmdable, cfg AuthConfig) *AuthService {
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	return &AuthService{redis: rdb, cfg: cfg, now: time.Now}
}

// Login checks the configured operator account. An empty password disables
// login entirely.
func (s *AuthService) Login(ctx context.Context, r req.LoginReq) (*resp.TokenResp, error) {
	if s.cfg.AdminPassword == "" ||
		subtle.ConstantTimeCompare([]byte(r.Username), []byte(s.cfg.AdminUser)) != 1 ||
		subtle.ConstantTimeCompare([]byte(r.Password), []byte(s.cfg.AdminPassword)) != 1 {
		return nil, ErrInvalidCredentials
	}

	tokens, err := s.generateTokens(ctx, adminUserID, r.Username, adminRole)
	if err != nil {
		return nil, err
	}
	tokens.User = resp.UserInfo{ID: adminUserID, Username: r.Username, Role: adminRole}
	return tokens, nil
}

// ParseToken validates a token signed by this service.
func (s *AuthService) ParseToken(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(t *jwt.Token) (any, error) {
		return s.cfg.SigningKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, ErrTokenInvalid
	}
	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Refresh rotates both tokens. The presented refresh token must be the one
// currently stored for the operator.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*resp.TokenResp, error) {
	claims, err := s.ParseToken(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Type != TokenRefresh {
		return nil, ErrTokenInvalid
	}

	stored, err := s.redis.Get(ctx, SessionKeyPrefix+claims.UserID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, err
	}
	if stored != refreshToken {
		return nil, ErrTokenInvalid
	}
	return s.generateTokens(ctx, claims.UserID, claims.Username, claims.Role)
}

func (s *AuthService) Logout(ctx context.Context, userID string) error {
	return s.redis.Del(ctx, SessionKeyPrefix+userID).Err()
}

func (s *AuthService) sign(userID, username, role, typ string, ttl time.Duration, jti string) (string, error) {
	now := s.now()
	claims := UserClaims{
		UserID:   userID,
		Username: username,
		Role:     role,
		Type:     typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
			ID:        jti,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SigningKey)
}

func (s *AuthService) generateTokens(ctx context.Context, userID, username, role string) (*resp.TokenResp, error) {
	access, err := s.sign(userID, username, role, TokenAccess, s.cfg.AccessTokenTTL, "")
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(userID, username, role, TokenRefresh, s.cfg.RefreshTokenTTL, uuid.New().String())
	if err != nil {
		return nil, err
	}
	if err := s.redis.Set(ctx, SessionKeyPrefix+userID, refresh, s.cfg.RefreshTokenTTL).Err(); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return &resp.TokenResp{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
	}, nil
}
