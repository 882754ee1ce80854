package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxvetter/internal/gmail"
	"inboxvetter/pkg/util"
)

// GoogleHandler drives the mailbox connection flow: consent URL, OAuth
// callback, disconnect.
type GoogleHandler struct {
	auth      *gmail.Authenticator
	jwtSecret string
	logger    *zap.Logger
}

func NewGoogleHandler(auth *gmail.Authenticator, jwtSecret string, logger *zap.Logger) *GoogleHandler {
	return &GoogleHandler{auth: auth, jwtSecret: jwtSecret, logger: logger}
}

// Connect returns the consent URL. The state parameter is a short-lived
// JWT carrying the email, so the callback can be an unauthenticated
// redirect target and still bind tokens to the right account.
func (h *GoogleHandler) Connect(c *gin.Context) {
	email := c.GetString("email")

	state, err := util.GenerateJWT(email, h.jwtSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"authUrl": h.auth.AuthURL(state)})
}

// Callback is Google's redirect target.
func (h *GoogleHandler) Callback(c *gin.Context) {
	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing state or code"})
		return
	}

	email, err := util.ParseJWT(state, h.jwtSecret)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
		return
	}

	if err := h.auth.Exchange(c.Request.Context(), email, code); err != nil {
		h.logger.Error("OAuth exchange failed", zap.String("email", email), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "authorization failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"connected": true})
}

func (h *GoogleHandler) Disconnect(c *gin.Context) {
	email := c.GetString("email")

	if err := h.auth.Disconnect(c.Request.Context(), email); err != nil {
		h.logger.Error("Disconnect failed", zap.String("email", email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"connected": false})
}
