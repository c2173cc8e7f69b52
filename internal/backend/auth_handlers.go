package backend

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/convosync/internal/auth"
	"github.com/vovakirdan/convosync/internal/proto"
)

// AuthHandlers serves the development token endpoint.
type AuthHandlers struct {
	authService *auth.Service
	log         *zerolog.Logger
}

// NewAuthHandlers creates a new auth handlers instance.
func NewAuthHandlers(authService *auth.Service, logger *zerolog.Logger) *AuthHandlers {
	return &AuthHandlers{authService: authService, log: logger}
}

// IssueToken registers the caller-chosen identity and returns a bearer token.
// POST /api/auth/token
func (h *AuthHandlers) IssueToken(c *gin.Context) {
	var req proto.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid token request")
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Detail: "invalid request body"})
		return
	}

	token, err := h.authService.IssueToken(c.Request.Context(), req.UserID, req.Name, req.Role)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidUserID) || errors.Is(err, auth.ErrInvalidRole) {
			c.JSON(http.StatusBadRequest, proto.ErrorResponse{Detail: err.Error()})
			return
		}
		h.log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to issue token")
		c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Detail: "internal server error"})
		return
	}

	h.log.Info().Str("user_id", req.UserID).Str("role", req.Role).Msg("token issued")
	c.JSON(http.StatusOK, proto.TokenResponse{Token: token})
}
