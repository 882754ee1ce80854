package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxvetter/internal/model"
	"inboxvetter/internal/repository"
)

// AdminHandler exposes the operator surface: user listing and billing
// state management.
type AdminHandler struct {
	users  *repository.UserRepository
	logger *zap.Logger
}

func NewAdminHandler(users *repository.UserRepository, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{users: users, logger: logger}
}

func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.users.ListUsers(c.Request.Context())
	if err != nil {
		h.logger.Error("User list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	out := make([]gin.H, 0, len(users))
	for _, u := range users {
		out = append(out, gin.H{
			"email":     u.Email,
			"role":      u.Role,
			"createdAt": u.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

type subscriptionRequest struct {
	Email    string     `json:"email" binding:"required,email"`
	Plan     string     `json:"plan" binding:"required"`
	Status   string     `json:"status"`
	RenewsAt *time.Time `json:"renewsAt"`
}

func (h *AdminHandler) UpsertSubscription(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription body"})
		return
	}

	sub := &model.Subscription{
		Email:    req.Email,
		Plan:     req.Plan,
		Status:   req.Status,
		RenewsAt: req.RenewsAt,
	}
	if err := h.users.UpsertSubscription(c.Request.Context(), sub); err != nil {
		h.logger.Error("Subscription upsert failed", zap.String("email", req.Email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, sub)
}
