package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/beacon-attendance/internal/dto"
	"github.com/noah-isme/beacon-attendance/internal/middleware"
	"github.com/noah-isme/beacon-attendance/internal/models"
	"github.com/noah-isme/beacon-attendance/internal/service"
	appErrors "github.com/noah-isme/beacon-attendance/pkg/errors"
	"github.com/noah-isme/beacon-attendance/pkg/response"
)

type scanEngine interface {
	StartSession(ctx context.Context, class models.ClassContext, opts service.StartOptions) (*service.ScanSession, error)
	Current() (*service.ScanSession, error)
	Close()
}

type sheetExporter interface {
	Render(snap models.SessionSnapshot, format string) (*service.ExportFile, error)
	Archive(snap models.SessionSnapshot, format string) (*service.ExportResult, error)
	Open(token string) (*os.File, string, error)
}

type instructionsStore interface {
	HideInstructions(ctx context.Context) (bool, error)
	SetHideInstructions(ctx context.Context, hidden bool) error
}

// ScanHandler exposes the live scan session.
type ScanHandler struct {
	engine   scanEngine
	exports  sheetExporter
	prefs    instructionsStore
	validate *validator.Validate
	logger   *zap.Logger
}

// NewScanHandler constructs the handler.
func NewScanHandler(engine scanEngine, exports sheetExporter, prefs instructionsStore, validate *validator.Validate, logger *zap.Logger) *ScanHandler {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanHandler{engine: engine, exports: exports, prefs: prefs, validate: validate, logger: logger}
}

// Start godoc
// @Summary Start a scan session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body dto.StartSessionRequest true "Class to capture"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions [post]
func (h *ScanHandler) Start(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.StartSessionRequest
	if !bindJSON(c, h.validate, &req, "invalid session payload") {
		return
	}
	session, err := h.engine.StartSession(c.Request.Context(), req.Class(claims.FacultyID), service.StartOptions{
		Duration: req.Duration(),
		Batch:    models.BatchFilter(req.Batch),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetOffline(c, session.Offline())
	response.JSON(c, http.StatusCreated, h.view(c.Request.Context(), session), nil, middleware.ExtractMeta(c))
}

// Current godoc
// @Summary Get the live scan session
// @Tags Sessions
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/current [get]
func (h *ScanHandler) Current(c *gin.Context) {
	session, ok := h.current(c)
	if !ok {
		return
	}
	middleware.SetOffline(c, session.Offline())
	response.JSON(c, http.StatusOK, h.view(c.Request.Context(), session), nil, middleware.ExtractMeta(c))
}

// Events godoc
// @Summary Stream session events
// @Description Server-sent events: state, counts, detected, tick and error.
// @Tags Sessions
// @Produce text/event-stream
// @Router /sessions/current/events [get]
func (h *ScanHandler) Events(c *gin.Context) {
	session, ok := h.current(c)
	if !ok {
		return
	}
	events, cancel := session.Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(string(service.SessionEventState), session.View())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, open := <-events:
			if !open {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// Override godoc
// @Summary Resolve the already-submitted prompt
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body dto.OverrideRequest true "Proceed or cancel"
// @Success 200 {object} response.Envelope
// @Success 204
// @Router /sessions/current/override [post]
func (h *ScanHandler) Override(c *gin.Context) {
	session, ok := h.current(c)
	if !ok {
		return
	}
	var req dto.OverrideRequest
	if !bindJSON(c, h.validate, &req, "invalid override payload") {
		return
	}
	if err := session.ResolveOverride(c.Request.Context(), *req.Proceed); err != nil {
		response.Error(c, err)
		return
	}
	if session.Closed() {
		response.NoContent(c)
		return
	}
	response.JSON(c, http.StatusOK, h.view(c.Request.Context(), session), nil)
}

// Retry godoc
// @Summary Retry the session handshake
// @Tags Sessions
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /sessions/current/retry [post]
func (h *ScanHandler) Retry(c *gin.Context) {
	session, ok := h.current(c)
	if !ok {
		return
	}
	if err := session.Retry(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, h.view(c.Request.Context(), session), nil)
}

// Pause godoc
// @Summary Pause scanning
// @Tags Sessions
// @Success 200 {object} response.Envelope
// @Router /sessions/current/pause [post]
func (h *ScanHandler) Pause(c *gin.Context) {
	h.lifecycle(c, func(s *service.ScanSession) error { return s.Pause() })
}

// Resume godoc
// @Summary Resume scanning
// @Tags Sessions
// @Success 200 {object} response.Envelope
// @Router /sessions/current/resume [post]
func (h *ScanHandler) Resume(c *gin.Context) {
	h.lifecycle(c, func(s *service.ScanSession) error { return s.Resume() })
}

// Blur godoc
// @Summary Report that the capture screen lost focus
// @Tags Sessions
// @Success 200 {object} response.Envelope
// @Router /sessions/current/blur [post]
func (h *ScanHandler) Blur(c *gin.Context) {
	h.lifecycle(c, func(s *service.ScanSession) error {
		s.Blur()
		return nil
	})
}

func (h *ScanHandler) lifecycle(c *gin.Context, fn func(*service.ScanSession) error) {
	session, ok := h.current(c)
	if !ok {
		return
	}
	if err := fn(session); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session.View(), nil)
}

// SetBatch godoc
// @Summary Switch the visible lab batch
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body dto.BatchFilterRequest true "Batch filter"
// @Success 200 {object} response.Envelope
// @Router /sessions/current/batch [put]
func (h *ScanHandler) SetBatch(c *gin.Context) {
	session, ok := h.current(c)
	if !ok {
		return
	}
	var req dto.BatchFilterRequest
	if !bindJSON(c, h.validate, &req, "invalid batch payload") {
		return
	}
	counts, err := session.SetBatchFilter(models.BatchFilter(*req.Batch))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.CountsResponse{Counts: counts}, nil)
}

// SetStatus godoc
// @Summary Mark a student manually
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body dto.StudentStatusRequest true "Status"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/current/students/{id}/status [put]
func (h *ScanHandler) SetStatus(c *gin.Context) {
	session, ok := h.current(c)
	if !ok {
		return
	}
	var req dto.StudentStatusRequest
	if !bindJSON(c, h.validate, &req, "invalid status payload") {
		return
	}
	counts, err := session.SetStatus(c.Param("id"), req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.CountsResponse{Status: req.Status, Counts: counts}, nil)
}

// Toggle godoc
// @Summary Flip a student between present and absent
// @Tags Sessions
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/current/students/{id}/toggle [post]
func (h *ScanHandler) Toggle(c *gin.Context) {
	session, ok := h.current(c)
	if !ok {
		return
	}
	status, counts, err := session.Toggle(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.CountsResponse{Status: status, Counts: counts}, nil)
}

// Bulk godoc
// @Summary Apply a bulk status action to the visible roster
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body dto.BulkStatusRequest true "Action"
// @Success 200 {object} response.Envelope
// @Router /sessions/current/bulk [post]
func (h *ScanHandler) Bulk(c *gin.Context) {
	session, ok := h.current(c)
	if !ok {
		return
	}
	var req dto.BulkStatusRequest
	if !bindJSON(c, h.validate, &req, "invalid bulk payload") {
		return
	}
	changed, counts, err := session.Bulk(req.Action)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.CountsResponse{Changed: changed, Counts: counts}, nil)
}

// Submit godoc
// @Summary Submit the session
// @Description Writes the roster to the backing store, or queues it when offline.
// @Tags Sessions
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /sessions/current/submit [post]
func (h *ScanHandler) Submit(c *gin.Context) {
	session, ok := h.current(c)
	if !ok {
		return
	}
	result, err := session.Submit(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	h.logger.Sugar().Infow("session submitted via api", "session_id", result.SessionID, "deferred", result.Deferred)
	response.JSON(c, http.StatusOK, result, nil)
}

// Close godoc
// @Summary Leave the capture screen
// @Tags Sessions
// @Success 204
// @Router /sessions/current [delete]
func (h *ScanHandler) Close(c *gin.Context) {
	h.engine.Close()
	response.NoContent(c)
}

// Export godoc
// @Summary Download the attendance sheet
// @Tags Sessions
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Router /sessions/current/export [get]
func (h *ScanHandler) Export(c *gin.Context) {
	session, ok := h.current(c)
	if !ok {
		return
	}
	file, err := h.exports.Render(session.Snapshot(), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// Archive godoc
// @Summary Archive the attendance sheet and return a signed link
// @Tags Sessions
// @Produce json
// @Param format query string false "csv or pdf"
// @Success 201 {object} response.Envelope
// @Router /sessions/current/export [post]
func (h *ScanHandler) Archive(c *gin.Context) {
	session, ok := h.current(c)
	if !ok {
		return
	}
	result, err := h.exports.Archive(session.Snapshot(), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download an archived attendance sheet
// @Tags Sessions
// @Param token path string true "Signed token"
// @Router /exports/{token} [get]
func (h *ScanHandler) Download(c *gin.Context) {
	file, relPath, err := h.exports.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export"))
		return
	}
	contentType := "text/csv"
	if strings.EqualFold(filepath.Ext(relPath), ".pdf") {
		contentType = "application/pdf"
	}
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", filepath.Base(relPath)),
	})
}

func (h *ScanHandler) current(c *gin.Context) (*service.ScanSession, bool) {
	session, err := h.engine.Current()
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return session, true
}

func (h *ScanHandler) view(ctx context.Context, session *service.ScanSession) dto.SessionView {
	roster := session.Roster()
	view := dto.SessionView{
		Session:  session.View(),
		Counts:   roster.Counts(),
		Students: roster.Entries(),
		Offline:  session.Offline(),
		Result:   session.Result(),
	}
	if h.prefs != nil {
		hidden, err := h.prefs.HideInstructions(ctx)
		if err != nil {
			h.logger.Debug("instructions preference unavailable", zap.Error(err))
		}
		view.HideInstructions = hidden
	}
	return view
}
