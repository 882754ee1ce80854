package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxvetter/internal/model"
	"inboxvetter/internal/repository"
	"inboxvetter/internal/runconfig"
)

type SettingsHandler struct {
	users  *repository.UserRepository
	logger *zap.Logger
}

func NewSettingsHandler(users *repository.UserRepository, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{users: users, logger: logger}
}

func (h *SettingsHandler) Get(c *gin.Context) {
	email := c.GetString("email")

	settings, err := h.users.GetSettings(c.Request.Context(), email)
	if errors.Is(err, repository.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		h.logger.Error("Settings read failed", zap.String("email", email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"settings":  settings,
		"effective": runconfig.Build(settings, nil),
	})
}

// Put replaces the stored settings blob. Unknown keys are accepted as-is;
// only the keys the run config reads matter at run time.
func (h *SettingsHandler) Put(c *gin.Context) {
	email := c.GetString("email")

	var settings model.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settings body"})
		return
	}

	if err := h.users.UpdateSettings(c.Request.Context(), email, settings); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logger.Error("Settings update failed", zap.String("email", email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"settings":  settings,
		"effective": runconfig.Build(settings, nil),
	})
}
