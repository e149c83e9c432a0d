package session

import (
	"context"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/garage-core/internal/client"
	"github.com/spec-kit/garage-core/internal/store"
)

// StoreCredentials returns a credential provider that reads the bearer token
// persisted under key. It is the only place outgoing requests learn the token.
func StoreCredentials(st *store.Store, key string) client.CredentialProvider {
	return client.CredentialFunc(func(ctx context.Context) string {
		return store.Get(ctx, st, key, "").Value
	})
}

// tokenExpired reports whether token is a JWT whose exp claim is not after
// now. The signature is not checked and opaque tokens are never expired here.
func tokenExpired(token string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}
