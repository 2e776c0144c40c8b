package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/beacon-attendance/internal/dto"
	"github.com/noah-isme/beacon-attendance/internal/models"
	appErrors "github.com/noah-isme/beacon-attendance/pkg/errors"
	"github.com/noah-isme/beacon-attendance/pkg/response"
)

type syncService interface {
	ListItems(ctx context.Context, filter models.QueueFilter) ([]models.QueueItem, error)
	RetryFailed(ctx context.Context, id string) error
	AmendRecord(ctx context.Context, sessionID string, record models.AttendanceRecord) (*models.SubmitResult, error)
	AddLateRecord(ctx context.Context, sessionID string, record models.AttendanceRecord) (*models.SubmitResult, error)
}

type replayRunner interface {
	ReplayOnce(ctx context.Context) (int, error)
}

// SyncHandler exposes the offline write queue and post-submit corrections.
type SyncHandler struct {
	sync     syncService
	replayer replayRunner
	validate *validator.Validate
	clock    func() time.Time
}

// NewSyncHandler constructs the handler.
func NewSyncHandler(sync syncService, replayer replayRunner, validate *validator.Validate) *SyncHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &SyncHandler{sync: sync, replayer: replayer, validate: validate, clock: time.Now}
}

// ListItems godoc
// @Summary List sync queue items
// @Tags Sync
// @Produce json
// @Param status query string false "pending, processing, completed or failed"
// @Param limit query int false "Maximum items"
// @Success 200 {object} response.Envelope
// @Router /sync/items [get]
func (h *SyncHandler) ListItems(c *gin.Context) {
	filter := models.QueueFilter{Limit: 100}
	if raw := c.Query("status"); raw != "" {
		status := models.QueueStatus(raw)
		switch status {
		case models.QueueStatusPending, models.QueueStatusProcessing, models.QueueStatusCompleted, models.QueueStatusFailed:
			filter.Status = &status
		default:
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid status filter"))
			return
		}
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 500 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be between 1 and 500"))
			return
		}
		filter.Limit = limit
	}
	items, err := h.sync.ListItems(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, &models.Pagination{Limit: filter.Limit, Count: len(items)})
}

// RetryItem godoc
// @Summary Put a failed queue item back into replay
// @Tags Sync
// @Param id path string true "Queue item ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /sync/items/{id}/retry [post]
func (h *SyncHandler) RetryItem(c *gin.Context) {
	if err := h.sync.RetryFailed(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Replay godoc
// @Summary Replay pending queue items now
// @Tags Sync
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /sync/replay [post]
func (h *SyncHandler) Replay(c *gin.Context) {
	processed, err := h.replayer.ReplayOnce(c.Request.Context())
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrSubmissionFailed.Code, appErrors.ErrSubmissionFailed.Status, "backing store unreachable"))
		return
	}
	response.JSON(c, http.StatusOK, dto.ReplayResponse{Processed: processed}, nil)
}

// AmendRecord godoc
// @Summary Change a student's status on a submitted session
// @Tags Sync
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param studentId path string true "Student ID"
// @Param payload body dto.AmendRecordRequest true "Status"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/records/{studentId} [patch]
func (h *SyncHandler) AmendRecord(c *gin.Context) {
	var req dto.AmendRecordRequest
	if !bindJSON(c, h.validate, &req, "invalid record payload") {
		return
	}
	result, err := h.sync.AmendRecord(c.Request.Context(), c.Param("id"), h.record(c.Param("studentId"), req.Status))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// AddRecord godoc
// @Summary Add a late record to a submitted session
// @Tags Sync
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.RecordRequest true "Record"
// @Success 201 {object} response.Envelope
// @Router /sessions/{id}/records [post]
func (h *SyncHandler) AddRecord(c *gin.Context) {
	var req dto.RecordRequest
	if !bindJSON(c, h.validate, &req, "invalid record payload") {
		return
	}
	result, err := h.sync.AddLateRecord(c.Request.Context(), c.Param("id"), h.record(req.StudentID, req.Status))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

func (h *SyncHandler) record(studentID string, status models.AttendanceStatus) models.AttendanceRecord {
	return models.AttendanceRecord{
		StudentID: studentID,
		Status:    status,
		MarkedAt:  h.clock().UTC(),
		IsManual:  true,
	}
}
