package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vovakirdan/convosync/internal/store/sqlite"
)

func newTestAuthService(t *testing.T) (*Service, *sqlite.SQLiteStore) {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	jwtConfig := &JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}

	return NewService(st, jwtConfig), st
}

func TestIssueToken_RejectsInvalidInput(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.IssueToken(ctx, "  ", "x", ""); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
	if _, err := svc.IssueToken(ctx, "u1", "x", "admin"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestIssueToken_RoundTripAndStoresUser(t *testing.T) {
	svc, st := newTestAuthService(t)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, "p1", "Ana", RoleProfessional)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.UserID != "p1" || claims.Name != "Ana" || claims.Role != RoleProfessional {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	user, err := st.GetUser(ctx, "p1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Name != "Ana" || user.Role != RoleProfessional {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestValidateToken_RejectsWrongAudienceAndSecret(t *testing.T) {
	cfg := &JWTConfig{Secret: []byte("s1"), Issuer: "test", Audience: "test", TTL: time.Hour}

	other := &JWTConfig{Secret: []byte("s1"), Issuer: "test", Audience: "other", TTL: time.Hour}
	token, err := GenerateToken(other, "u1", "", RoleUser)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateToken(cfg, token); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}

	forged := &JWTConfig{Secret: []byte("s2"), Issuer: "test", Audience: "test", TTL: time.Hour}
	token, _ = GenerateToken(forged, "u1", "", RoleUser)
	if _, err := ValidateToken(cfg, token); err == nil {
		t.Fatalf("expected signature mismatch to fail")
	}
}

func TestValidateToken_FallsBackToSubject(t *testing.T) {
	cfg := &JWTConfig{Secret: []byte("s1"), TTL: time.Hour}

	claims := jwt.MapClaims{"sub": "u7", "exp": time.Now().Add(time.Hour).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	parsed, err := ValidateToken(cfg, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if parsed.UserID != "u7" {
		t.Fatalf("expected subject fallback, got %q", parsed.UserID)
	}
}
