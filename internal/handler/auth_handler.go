package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"inboxtriage/internal/model"
)

const stateCookie = "oauth_state"

type AuthService interface {
	AuthURL(state string) string
	HandleCallback(ctx context.Context, code string) (string, *model.User, error)
	Me(ctx context.Context, userID int) (*model.User, error)
}

type AuthHandler struct {
	auth        AuthService
	frontendURL string
	secure      bool
	logger      *zap.Logger
}

func NewAuthHandler(auth AuthService, frontendURL string, secure bool, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:        auth,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		secure:      secure,
		logger:      logger,
	}
}

// GoogleLogin handles GET /api/auth/google
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	state := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, 600, "/", "", h.secure, true)
	c.JSON(http.StatusOK, gin.H{"authUrl": h.auth.AuthURL(state)})
}

// GoogleCallback handles GET /api/auth/google/callback
func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	if errParam := c.Query("error"); errParam != "" {
		h.redirectError(c, errParam)
		return
	}
	state, err := c.Cookie(stateCookie)
	if err != nil || state == "" || state != c.Query("state") {
		h.redirectError(c, "invalid_state")
		return
	}
	c.SetCookie(stateCookie, "", -1, "/", "", h.secure, true)

	token, u, err := h.auth.HandleCallback(c.Request.Context(), c.Query("code"))
	if err != nil {
		h.logger.Warn("OAuth callback failed", zap.Error(err))
		h.redirectError(c, "auth_failed")
		return
	}

	h.logger.Info("OAuth callback completed", zap.Int("user_id", u.ID))
	c.Redirect(http.StatusFound, h.frontendURL+"/auth/callback?token="+url.QueryEscape(token))
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	u, err := h.auth.Me(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *AuthHandler) redirectError(c *gin.Context, reason string) {
	c.Redirect(http.StatusFound, h.frontendURL+"/auth/callback?error="+url.QueryEscape(reason))
}
