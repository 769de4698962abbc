// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

type contextKey struct{}

// userIDKey is the context key for the authenticated user's ID.
// The associated value is always a string.
var userIDKey contextKey

// getUserID returns the UserID from the request context, if present.
func getUserID(r *http.Request) string {
	if s, ok := r.Context().Value(userIDKey).(string); ok {
		return s
	}
	return ""
}

// withUserID stores userID in ctx and reports it to the request logger, which
// sits outside the auth middleware.
func withUserID(ctx context.Context, userID string) context.Context {
	if rec, ok := ctx.Value(recorderKey).(*statusRecorder); ok {
		rec.userID = userID
	}
	return context.WithValue(ctx, userIDKey, userID)
}

// normalizeUserID ensures consistent casing and whitespace for user ids,
// which are usually email addresses.
func normalizeUserID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// maskUserID obscures a user id for safe logging.
// e.g. "user@example.com" -> "u***@example.com", "player42" -> "p***"
func maskUserID(id string) string {
	if id == "" {
		return "<empty>"
	}
	local, domain, isEmail := strings.Cut(id, "@")
	if local == "" {
		return "****"
	}
	if !isEmail {
		return local[:1] + "***"
	}
	return local[:1] + "***@" + domain
}

// mockAuthMiddleware trusts the user named in the mock_auth_user cookie.
// For tests and local play only.
func mockAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("mock_auth_user"); err == nil && c.Value != "" {
			r = r.WithContext(withUserID(r.Context(), normalizeUserID(c.Value)))
		}
		next.ServeHTTP(w, r)
	})
}

// jwksRefreshInterval rate-limits refetches triggered by unknown key ids.
const jwksRefreshInterval = time.Minute

// jwksCache holds the signing keys of the identity provider.
type jwksCache struct {
	url string

	mu          sync.RWMutex
	keys        jwk.Set
	lastRefresh time.Time
}

func (c *jwksCache) refresh(ctx context.Context) error {
	if c.url == "" {
		return errors.New("no JWKS URL provided")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	set, err := jwk.Fetch(ctx, c.url)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	c.mu.Lock()
	c.keys = set
	c.lastRefresh = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *jwksCache) lookup(kid string) (any, error) {
	c.mu.RLock()
	set := c.keys
	c.mu.RUnlock()
	if set == nil {
		return nil, errors.New("JWKS not initialized")
	}
	key, ok := set.LookupKeyID(kid)
	if !ok {
		return nil, fmt.Errorf("key %s not found in JWKS", kid)
	}
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("failed to materialize key: %w", err)
	}
	return raw, nil
}

// keyFunc resolves the verification key of token, refetching the JWKS at
// most once per jwksRefreshInterval when the key id is unknown.
func (c *jwksCache) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA, *jwt.SigningMethodEd25519:
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("token missing 'kid' header")
		}
		key, err := c.lookup(kid)
		if err == nil {
			return key, nil
		}
		c.mu.RLock()
		stale := time.Since(c.lastRefresh) > jwksRefreshInterval
		c.mu.RUnlock()
		if !stale {
			return nil, err
		}
		if err := c.refresh(ctx); err != nil {
			log.Error("refreshing JWKS", "err", err)
			return nil, err
		}
		return c.lookup(kid)
	}
}

// jwtAuthMiddleware authenticates requests carrying a JWT in the auth
// cookie. The user id is the token's email claim, or its subject when there
// is no email. Requests without a valid token proceed anonymously.
func jwtAuthMiddleware(jwksURL, cookieName string, next http.Handler) http.Handler {
	cache := &jwksCache{url: jwksURL}
	if jwksURL != "" {
		if err := cache.refresh(context.Background()); err != nil {
			log.Warn("failed to fetch JWKS on startup", "err", err)
		}
	} else {
		log.Warn("no JWKS URL provided; JWT validation will fail unless mock auth is used")
	}
	return jwtAuth(cache, cookieName, next)
}

func jwtAuth(cache *jwksCache, cookieName string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(cookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, err := jwt.Parse(cookie.Value, cache.keyFunc(r.Context()))
		if err != nil || !token.Valid {
			log.Debug("JWT validation failed", "err", err)
			next.ServeHTTP(w, r)
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		id, _ := claims["email"].(string)
		if id == "" {
			id, _ = claims.GetSubject()
		}
		if id = normalizeUserID(id); id != "" {
			r = r.WithContext(withUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// requireUser rejects anonymous requests with 401.
func requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if getUserID(r) == "" {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r)
	}
}
