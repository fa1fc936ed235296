package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/auth"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/telemetry"
	"github.com/playdroplink/droplink-testnet-35167-sub002/pkg/paymentapi"
)

type LoginService interface {
	Login(ctx context.Context, accessToken string) (*auth.Session, error)
}

type AuthHandler struct {
	sessions LoginService
}

func NewAuthHandler(sessions LoginService) *AuthHandler {
	return &AuthHandler{sessions: sessions}
}

// AuthenticatePi exchanges a Pi access token for a DropLink session token.
func (h *AuthHandler) AuthenticatePi(c *gin.Context) {
	var req paymentapi.AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.sessions.Login(c.Request.Context(), req.AccessToken)
	switch {
	case errors.Is(err, auth.ErrInvalidAccessToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid Pi access token"})
		return
	case err != nil:
		telemetry.Logger.Error("Pi authentication failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Could not verify Pi user"})
		return
	}

	c.JSON(http.StatusOK, paymentapi.AuthResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User: paymentapi.AuthUser{
			ID:       session.Profile.ID,
			PiUID:    session.Profile.PiUID,
			Username: session.Profile.Username,
		},
	})
}
