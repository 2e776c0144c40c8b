package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/beacon-attendance/internal/dto"
	"github.com/noah-isme/beacon-attendance/internal/service"
	"github.com/noah-isme/beacon-attendance/pkg/beacon"
	appErrors "github.com/noah-isme/beacon-attendance/pkg/errors"
	"github.com/noah-isme/beacon-attendance/pkg/response"
)

type simulatedRadio interface {
	Emit(beaconID string, signalStrength int) bool
	SetState(state beacon.State)
	State() beacon.State
}

type tokenIssuer interface {
	IssueToken(identity service.FacultyIdentity) (string, time.Time, error)
}

// DevHandler drives the simulated beacon driver and issues local tokens.
// Only mounted outside production.
type DevHandler struct {
	radio    simulatedRadio
	tokens   tokenIssuer
	validate *validator.Validate
}

// NewDevHandler constructs the handler. radio may be nil when the hardware
// driver is in use.
func NewDevHandler(radio simulatedRadio, tokens tokenIssuer, validate *validator.Validate) *DevHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &DevHandler{radio: radio, tokens: tokens, validate: validate}
}

// IssueToken godoc
// @Summary Issue a faculty token for local testing
// @Tags Dev
// @Accept json
// @Produce json
// @Param payload body dto.DevTokenRequest true "Faculty"
// @Success 201 {object} response.Envelope
// @Router /dev/token [post]
func (h *DevHandler) IssueToken(c *gin.Context) {
	var req dto.DevTokenRequest
	if !bindJSON(c, h.validate, &req, "invalid token payload") {
		return
	}
	token, expiresAt, err := h.tokens.IssueToken(service.FacultyIdentity{FacultyID: req.FacultyID, Name: req.Name, Dept: req.Dept})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{"access_token": token, "expires_at": expiresAt})
}

// InjectDetection godoc
// @Summary Inject a simulated beacon advertisement
// @Tags Dev
// @Accept json
// @Produce json
// @Param payload body dto.DetectionRequest true "Detection"
// @Success 202 {object} response.Envelope
// @Router /dev/detections [post]
func (h *DevHandler) InjectDetection(c *gin.Context) {
	if h.radio == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "simulated driver not active"))
		return
	}
	var req dto.DetectionRequest
	if !bindJSON(c, h.validate, &req, "invalid detection payload") {
		return
	}
	delivered := h.radio.Emit(req.BeaconID, req.SignalStrength)
	response.Accepted(c, gin.H{"delivered": delivered})
}

// SetAdapterState godoc
// @Summary Force the simulated adapter state
// @Tags Dev
// @Accept json
// @Produce json
// @Param payload body dto.AdapterStateRequest true "State"
// @Success 200 {object} response.Envelope
// @Router /dev/adapter [put]
func (h *DevHandler) SetAdapterState(c *gin.Context) {
	if h.radio == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "simulated driver not active"))
		return
	}
	var req dto.AdapterStateRequest
	if !bindJSON(c, h.validate, &req, "invalid adapter payload") {
		return
	}
	h.radio.SetState(beacon.State(req.State))
	response.JSON(c, http.StatusOK, gin.H{"state": h.radio.State()}, nil)
}
