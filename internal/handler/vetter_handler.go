package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxvetter/internal/inbox"
	"inboxvetter/internal/runconfig"
	"inboxvetter/internal/scheduler"
)

type VetterHandler struct {
	runner *inbox.Runner
	store  inbox.StateStore
	sched  *scheduler.Scheduler
	// baseCtx outlives requests; scheduled jobs hang off it.
	baseCtx context.Context
	logger  *zap.Logger
}

func NewVetterHandler(runner *inbox.Runner, store inbox.StateStore, sched *scheduler.Scheduler, baseCtx context.Context, logger *zap.Logger) *VetterHandler {
	return &VetterHandler{runner: runner, store: store, sched: sched, baseCtx: baseCtx, logger: logger}
}

// GetState returns the user's pipeline state, including the bounded log.
func (h *VetterHandler) GetState(c *gin.Context) {
	email := c.GetString("email")

	state, err := h.store.GetState(c.Request.Context(), email)
	if err != nil {
		h.logger.Error("State read failed", zap.String("email", email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"active":       state.Active,
		"lastRunAt":    state.LastRunAt,
		"lastReportId": state.LastReportID,
		"nextRunAt":    state.NextRunAt,
		"processed":    len(state.ProcessedMessageIDs),
		"scheduled":    h.sched.Scheduled(email),
		"logs":         state.Logs,
	})
}

// Start triggers one manual run. Overrides in the request body take
// precedence over stored settings for this run only.
func (h *VetterHandler) Start(c *gin.Context) {
	email := c.GetString("email")

	var overrides runconfig.Values
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&overrides); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid overrides"})
			return
		}
	}

	// A client disconnect must not abort the run mid-mutation, so the
	// run detaches from the request context.
	report, err := h.runner.Execute(context.WithoutCancel(c.Request.Context()), email, overrides, "manual", nil)
	if err != nil {
		var active *inbox.AlreadyActiveError
		switch {
		case errors.As(err, &active):
			c.JSON(http.StatusConflict, gin.H{"error": "a run is already active"})
		case errors.Is(err, inbox.ErrCredentialsMissing):
			c.JSON(http.StatusBadRequest, gin.H{"error": "mailbox is not connected"})
		default:
			h.logger.Error("Manual run failed", zap.String("email", email), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "run failed"})
		}
		return
	}

	c.JSON(http.StatusOK, report)
}

type scheduleRequest struct {
	IntervalSeconds int `json:"intervalSeconds"`
}

// Schedule starts (or re-intervals) the user's recurring job.
func (h *VetterHandler) Schedule(c *gin.Context) {
	email := c.GetString("email")

	var req scheduleRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid interval"})
			return
		}
	}

	interval := scheduler.NormalizeInterval(time.Duration(req.IntervalSeconds) * time.Second)
	h.sched.StartForUser(h.baseCtx, email, interval)

	c.JSON(http.StatusOK, gin.H{
		"scheduled":       true,
		"intervalSeconds": int(interval.Seconds()),
	})
}

// Unschedule stops the user's recurring job.
func (h *VetterHandler) Unschedule(c *gin.Context) {
	email := c.GetString("email")
	h.sched.StopForUser(email)
	c.JSON(http.StatusOK, gin.H{"scheduled": false})
}
