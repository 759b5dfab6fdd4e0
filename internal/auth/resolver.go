/**
 * @description
 * Session resolution for the refund-service. The core never issues identity;
 * it only resolves an opaque session token into {userId, role, expiresAt}
 * through the SessionResolver collaborator. Two implementations ship:
 *
 * - JWTResolver: tokens are HMAC-signed JWTs minted by the identity provider,
 *   carrying `sub`, `role` and `exp` claims.
 * - RedisResolver: tokens index JSON session records stored under
 *   `session:<token>` by the identity provider.
 *
 * Both reject absent, malformed and expired sessions the same way: callers
 * only see ErrSessionInvalid.
 */

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/refundly/refund-service/internal/domain"
)

// ErrSessionInvalid covers missing, malformed and expired sessions.
var ErrSessionInvalid = errors.New("session token is missing, invalid or expired")

// Session is a resolved authentication context.
type Session struct {
	UserID    uuid.UUID
	Role      domain.Role
	ExpiresAt time.Time
}

// Expired reports whether the session has passed its expiry at the given time.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// SessionResolver looks up a session token. Implementations return
// ErrSessionInvalid for anything that must not be admitted.
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (*Session, error)
}

// JWTResolver validates HMAC-signed session JWTs.
type JWTResolver struct {
	secret []byte
}

// NewJWTResolver creates a resolver over the shared signing secret.
func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

// ResolveSession parses and validates the token. Expiry is enforced by the
// JWT library; the subject claim must be the user's UUID.
func (r *JWTResolver) ResolveSession(ctx context.Context, token string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrSessionInvalid
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrSessionInvalid
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrSessionInvalid
	}

	subject, ok := claims["sub"].(string)
	if !ok {
		return nil, ErrSessionInvalid
	}
	userID, err := uuid.Parse(subject)
	if err != nil {
		return nil, ErrSessionInvalid
	}

	role := domain.RoleMember
	if claimed, ok := claims["role"].(string); ok && domain.Role(claimed) == domain.RoleStaff {
		role = domain.RoleStaff
	}

	var expiresAt time.Time
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
	}

	return &Session{UserID: userID, Role: role, ExpiresAt: expiresAt}, nil
}

// RedisResolver looks up session records stored in Redis by the identity
// provider.
type RedisResolver struct {
	client *redis.Client
	prefix string
}

// NewRedisResolver creates a resolver over the given client. prefix defaults
// to "session:".
func NewRedisResolver(client *redis.Client, prefix string) *RedisResolver {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "session:"
	}
	return &RedisResolver{client: client, prefix: prefix}
}

type redisSessionRecord struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ResolveSession fetches and validates the stored session record.
func (r *RedisResolver) ResolveSession(ctx context.Context, token string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrSessionInvalid
	}

	raw, err := r.client.Get(ctx, r.prefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionInvalid
		}
		return nil, fmt.Errorf("session lookup: %w", err)
	}

	var record redisSessionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, ErrSessionInvalid
	}
	userID, err := uuid.Parse(record.UserID)
	if err != nil {
		return nil, ErrSessionInvalid
	}
	session := &Session{
		UserID:    userID,
		Role:      domain.Role(record.Role),
		ExpiresAt: record.ExpiresAt,
	}
	if session.Role != domain.RoleStaff {
		session.Role = domain.RoleMember
	}
	if session.Expired(time.Now()) {
		return nil, ErrSessionInvalid
	}
	return session, nil
}
