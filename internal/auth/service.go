package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/convosync/internal/store"
)

var (
	// ErrInvalidUserID is returned when a token is requested for an empty or oversized id.
	ErrInvalidUserID = errors.New("invalid user id")
	// ErrInvalidRole is returned for roles other than user and professional.
	ErrInvalidRole = errors.New("invalid role")
)

const (
	RoleUser         = "user"
	RoleProfessional = "professional"
)

// Service issues and validates bearer tokens.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
	}
}

// IssueToken registers (or refreshes) the user and returns a JWT for it.
// This is the development login of the reference backend.
func (s *Service) IssueToken(ctx context.Context, userID, name, role string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || len(userID) > 64 {
		return "", ErrInvalidUserID
	}
	if role == "" {
		role = RoleUser
	}
	if role != RoleUser && role != RoleProfessional {
		return "", ErrInvalidRole
	}

	user, err := s.store.UpsertUser(ctx, store.User{ID: userID, Name: strings.TrimSpace(name), Role: role})
	if err != nil {
		return "", fmt.Errorf("upsert user: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Name, user.Role)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}
