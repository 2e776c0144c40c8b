package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/beacon-attendance/internal/dto"
	"github.com/noah-isme/beacon-attendance/pkg/response"
)

// PreferenceHandler exposes device-local UI preferences.
type PreferenceHandler struct {
	store    instructionsStore
	validate *validator.Validate
}

// NewPreferenceHandler constructs the handler.
func NewPreferenceHandler(store instructionsStore, validate *validator.Validate) *PreferenceHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &PreferenceHandler{store: store, validate: validate}
}

// GetInstructions godoc
// @Summary Get the hide-instructions flag
// @Tags Preferences
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /preferences/instructions [get]
func (h *PreferenceHandler) GetInstructions(c *gin.Context) {
	hidden, err := h.store.HideInstructions(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.InstructionsPreference{Hidden: &hidden}, nil)
}

// SetInstructions godoc
// @Summary Set the hide-instructions flag
// @Tags Preferences
// @Accept json
// @Produce json
// @Param payload body dto.InstructionsPreference true "Flag"
// @Success 200 {object} response.Envelope
// @Router /preferences/instructions [put]
func (h *PreferenceHandler) SetInstructions(c *gin.Context) {
	var req dto.InstructionsPreference
	if !bindJSON(c, h.validate, &req, "invalid preference payload") {
		return
	}
	if err := h.store.SetHideInstructions(c.Request.Context(), *req.Hidden); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}
