package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/refundly/refund-service/internal/domain"
)

const testSecret = "unit-test-secret"

func mintToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestJWTResolver_ResolvesMemberSession(t *testing.T) {
	userID := uuid.New()
	resolver := NewJWTResolver(testSecret)
	token := mintToken(t, testSecret, jwt.MapClaims{
		"sub":  userID.String(),
		"role": "member",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	session, err := resolver.ResolveSession(context.Background(), token)
	if err != nil {
		t.Fatalf("ResolveSession returned error: %v", err)
	}
	if session.UserID != userID {
		t.Fatalf("unexpected user id %s", session.UserID)
	}
	if session.Role != domain.RoleMember {
		t.Fatalf("expected member role, got %s", session.Role)
	}
	if session.Expired(time.Now()) {
		t.Fatal("fresh session must not be expired")
	}
}

func TestJWTResolver_ResolvesStaffRole(t *testing.T) {
	resolver := NewJWTResolver(testSecret)
	token := mintToken(t, testSecret, jwt.MapClaims{
		"sub":  uuid.NewString(),
		"role": "staff",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	session, err := resolver.ResolveSession(context.Background(), token)
	if err != nil {
		t.Fatalf("ResolveSession returned error: %v", err)
	}
	if session.Role != domain.RoleStaff {
		t.Fatalf("expected staff role, got %s", session.Role)
	}
}

func TestJWTResolver_UnknownRoleDowngradesToMember(t *testing.T) {
	resolver := NewJWTResolver(testSecret)
	token := mintToken(t, testSecret, jwt.MapClaims{
		"sub":  uuid.NewString(),
		"role": "superadmin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	session, err := resolver.ResolveSession(context.Background(), token)
	if err != nil {
		t.Fatalf("ResolveSession returned error: %v", err)
	}
	if session.Role != domain.RoleMember {
		t.Fatalf("expected downgrade to member, got %s", session.Role)
	}
}

func TestJWTResolver_RejectsExpiredToken(t *testing.T) {
	resolver := NewJWTResolver(testSecret)
	token := mintToken(t, testSecret, jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(-time.Minute).Unix(),
	})

	if _, err := resolver.ResolveSession(context.Background(), token); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid for expired token, got %v", err)
	}
}

func TestJWTResolver_RejectsWrongSignature(t *testing.T) {
	resolver := NewJWTResolver(testSecret)
	token := mintToken(t, "a-different-secret", jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := resolver.ResolveSession(context.Background(), token); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid for forged token, got %v", err)
	}
}

func TestJWTResolver_RejectsEmptyAndGarbageTokens(t *testing.T) {
	resolver := NewJWTResolver(testSecret)

	for _, token := range []string{"", "   ", "not-a-jwt"} {
		if _, err := resolver.ResolveSession(context.Background(), token); !errors.Is(err, ErrSessionInvalid) {
			t.Fatalf("expected ErrSessionInvalid for %q, got %v", token, err)
		}
	}
}

func TestJWTResolver_RejectsNonUUIDSubject(t *testing.T) {
	resolver := NewJWTResolver(testSecret)
	token := mintToken(t, testSecret, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := resolver.ResolveSession(context.Background(), token); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid for non-uuid subject, got %v", err)
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Now()

	fresh := Session{ExpiresAt: now.Add(time.Minute)}
	if fresh.Expired(now) {
		t.Fatal("session with future expiry must not be expired")
	}

	stale := Session{ExpiresAt: now.Add(-time.Minute)}
	if !stale.Expired(now) {
		t.Fatal("session past its expiry must be expired")
	}

	unbounded := Session{}
	if unbounded.Expired(now) {
		t.Fatal("zero expiry means no expiry")
	}
}
