package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	UserTypeKey contextKey = "user_type"
)

// User types carried in the user_type claim.
const (
	UserTypePractitioner = "practitioner"
	UserTypePatient      = "patient"
)

// ErrNoActor is returned when the request carries no usable user identity.
var ErrNoActor = errors.New("no authenticated user in request")

type Claims struct {
	jwt.RegisteredClaims
	UserType string `json:"user_type"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey selects HS256 verification instead of JWKS.
	SigningKey []byte
	Skipper    func(echo.Context) bool
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// jwksCache holds RSA keys from a JWKS endpoint and refetches on a miss or
// after ttl.
type jwksCache struct {
	mu        sync.RWMutex
	url       string
	ttl       time.Duration
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	client    *http.Client
}

func newJWKSCache(url string, ttl time.Duration) *jwksCache {
	return &jwksCache{
		url:    url,
		ttl:    ttl,
		keys:   map[string]*rsa.PublicKey{},
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *jwksCache) key(kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	k, ok := c.keys[kid]
	fresh := time.Since(c.fetchedAt) <= c.ttl
	c.mu.RUnlock()
	if ok && fresh {
		return k, nil
	}

	if err := c.refresh(); err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if k, ok = c.keys[kid]; !ok {
		return nil, fmt.Errorf("key with kid %q not found in JWKS", kid)
	}
	return k, nil
}

func (c *jwksCache) refresh() error {
	resp, err := c.client.Get(c.url)
	if err != nil {
		return fmt.Errorf("GET %s: %w", c.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var set struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decoding JWKS response: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		n, errN := base64.RawURLEncoding.DecodeString(k.N)
		e, errE := base64.RawURLEncoding.DecodeString(k.E)
		if errN != nil || errE != nil {
			continue
		}
		keys[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var keyFunc jwt.Keyfunc
	if len(cfg.SigningKey) > 0 {
		keyFunc = func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
	} else {
		cache := newJWKSCache(cfg.JWKSURL, 5*time.Minute)
		keyFunc = func(t *jwt.Token) (interface{}, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, fmt.Errorf("token has no kid header")
			}
			return cache.key(kid)
		}
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			scheme, tokenStr, found := strings.Cut(c.Request().Header.Get("Authorization"), " ")
			if scheme == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			if !found || !strings.EqualFold(scheme, "bearer") || tokenStr == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if _, err := uuid.Parse(claims.Subject); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "token subject is not a user id")
			}

			c.SetRequest(c.Request().WithContext(WithUser(c.Request().Context(), claims.Subject, claims.UserType)))
			return next(c)
		}
	}
}

// DevAuthMiddleware acts as userID for requests without a bearer token.
func DevAuthMiddleware(userID uuid.UUID) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") == "" {
				ctx := WithUser(c.Request().Context(), userID.String(), UserTypePractitioner)
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	}
}

// WithUser returns ctx carrying the authenticated user.
func WithUser(ctx context.Context, userID, userType string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UserTypeKey, userType)
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func UserTypeFromContext(ctx context.Context) string {
	ut, _ := ctx.Value(UserTypeKey).(string)
	return ut
}

// ActorFromContext returns the authenticated user id.
func ActorFromContext(ctx context.Context) (uuid.UUID, error) {
	uid := UserIDFromContext(ctx)
	if uid == "" {
		return uuid.Nil, ErrNoActor
	}
	id, err := uuid.Parse(uid)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrNoActor, err.Error())
	}
	return id, nil
}
