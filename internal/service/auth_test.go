package service

import (
	"context"
	"testing"

	"retryflow/internal/dto/req"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuth(t *testing.T) (*AuthService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewAuthService(rdb, AuthConfig{
		SigningKey:    []byte("test-key"),
		AdminUser:     "admin",
		AdminPassword: "secret",
	}), mr
}

func TestLogin(t *testing.T) {
	s, mr := newAuth(t)
	ctx := context.Background()

	_, err := s.Login(ctx, req.LoginReq{Username: "admin", Password: "nope"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	tokens, err := s.Login(ctx, req.LoginReq{Username: "admin", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "admin", tokens.User.Username)
	assert.True(t, mr.Exists(SessionKeyPrefix+tokens.User.ID))

	claims, err := s.ParseToken(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, TokenAccess, claims.Type)

	refresh, err := s.ParseToken(tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, TokenRefresh, refresh.Type)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	s, _ := newAuth(t)
	tokens, err := s.Login(context.Background(), req.LoginReq{Username: "admin", Password: "secret"})
	require.NoError(t, err)

	_, err = s.Refresh(context.Background(), tokens.AccessToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestLoginDisabledWithoutPassword(t *testing.T) {
	s, _ := newAuth(t)
	s.cfg.AdminPassword = ""
	_, err := s.Login(context.Background(), req.LoginReq{Username: "admin", Password: ""})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestParseTokenRejectsForeignKey(t *testing.T) {
	s, _ := newAuth(t)
	other := NewAuthService(s.redis, AuthConfig{SigningKey: []byte("other-key")})
	tok, err := other.sign("1", "admin", "admin", TokenAccess, DefaultAccessTokenTTL, "")
	require.NoError(t, err)

	_, err = s.ParseToken(tok)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefreshRotatesSession(t *testing.T) {
	s, _ := newAuth(t)
	ctx := context.Background()

	first, err := s.Login(ctx, req.LoginReq{Username: "admin", Password: "secret"})
	require.NoError(t, err)

	second, err := s.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = s.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenInvalid, "a rotated refresh token is dead")

	require.NoError(t, s.Logout(ctx, first.User.ID))
	_, err = s.Refresh(ctx, second.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionExpired)
}
