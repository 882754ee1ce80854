package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxvetter/internal/repository"
)

type ReportHandler struct {
	reports *repository.ReportRepository
	logger  *zap.Logger
}

func NewReportHandler(reports *repository.ReportRepository, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, logger: logger}
}

func (h *ReportHandler) List(c *gin.Context) {
	email := c.GetString("email")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	records, err := h.reports.ListReports(c.Request.Context(), email, limit)
	if err != nil {
		h.logger.Error("Report list failed", zap.String("email", email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reports": records})
}

func (h *ReportHandler) Get(c *gin.Context) {
	email := c.GetString("email")

	record, err := h.reports.GetReport(c.Request.Context(), email, c.Param("id"))
	if errors.Is(err, repository.ErrReportNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	if err != nil {
		h.logger.Error("Report read failed", zap.String("email", email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, record)
}

// GetHTML serves the rendered report file. Ownership is enforced by
// looking the record up under the caller's email first.
func (h *ReportHandler) GetHTML(c *gin.Context) {
	email := c.GetString("email")

	record, err := h.reports.GetReport(c.Request.Context(), email, c.Param("id"))
	if errors.Is(err, repository.ErrReportNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.File(record.Meta.ReportPath)
}
