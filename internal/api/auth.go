package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt"

	"chatsync/internal/types"
)

// Identity is supplied by an external identity provider as a signed
// token; this layer only verifies the signature and lifts the claims
// into the request context. There is no login or registration here.

const (
	tokenCookieKey = "token"

	subjectClaim     = "sub"
	displayNameClaim = "name"
)

type contextKey string

const userKey contextKey = "user"

func WithUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func UserFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(userKey).(types.User)
	return user, ok
}

func (s *ChatSyncApp) verifyToken(tokenString string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return token, nil
}

func (s *ChatSyncApp) extractUserFromRequest(r *http.Request) (types.User, error) {
	tokenCookie, err := r.Cookie(tokenCookieKey)
	if err != nil {
		return types.User{}, fmt.Errorf("get cookie: %w", err)
	}

	token, err := s.verifyToken(tokenCookie.Value)
	if err != nil {
		return types.User{}, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.User{}, fmt.Errorf("invalid token claims")
	}

	sub, ok := claims[subjectClaim].(string)
	if !ok || sub == "" {
		return types.User{}, fmt.Errorf("invalid subject claim")
	}

	// display name is optional; messages snapshot whatever was present
	name, _ := claims[displayNameClaim].(string)

	return types.User{Id: sub, DisplayName: name}, nil
}
