package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/beacon-attendance/internal/middleware"
	"github.com/noah-isme/beacon-attendance/internal/models"
	appErrors "github.com/noah-isme/beacon-attendance/pkg/errors"
	"github.com/noah-isme/beacon-attendance/pkg/response"
)

type scheduleSource interface {
	Schedule(ctx context.Context, facultyID string, now time.Time) ([]models.TimetableSlot, []models.CalendarDay, bool, error)
}

type scanGate interface {
	IsScanAllowed(now time.Time, timetable []models.TimetableSlot, calendar []models.CalendarDay) models.ScheduleDecision
}

// ScheduleHandler answers whether the faculty may scan right now.
type ScheduleHandler struct {
	source scheduleSource
	gate   scanGate
	clock  func() time.Time
	logger *zap.Logger
}

// NewScheduleHandler constructs the handler.
func NewScheduleHandler(source scheduleSource, gate scanGate, clock func() time.Time, logger *zap.Logger) *ScheduleHandler {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleHandler{source: source, gate: gate, clock: clock, logger: logger}
}

// Check godoc
// @Summary Evaluate the schedule gate for the current faculty
// @Tags Schedule
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /schedule/check [get]
func (h *ScheduleHandler) Check(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	now := h.clock()
	slots, days, offline, err := h.source.Schedule(c.Request.Context(), claims.FacultyID, now)
	if err != nil {
		h.logger.Sugar().Warnw("schedule partially unavailable", "faculty_id", claims.FacultyID, "error", err)
	}
	middleware.SetOffline(c, offline)
	response.JSON(c, http.StatusOK, h.gate.IsScanAllowed(now, slots, days), nil, middleware.ExtractMeta(c))
}
