package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/bestfriendai/SupaSecret-sub010/internal/capture"
	"github.com/bestfriendai/SupaSecret-sub010/internal/middleware"
	"github.com/bestfriendai/SupaSecret-sub010/internal/model"
	"github.com/bestfriendai/SupaSecret-sub010/internal/pipeline"
	"github.com/bestfriendai/SupaSecret-sub010/internal/service"
	"github.com/bestfriendai/SupaSecret-sub010/pkg/response"
)

type SessionHandler struct {
	manager   *pipeline.Manager
	service   *service.PipelineService
	validator *validator.Validate
}

func NewSessionHandler(manager *pipeline.Manager, svc *service.PipelineService, v *validator.Validate) *SessionHandler {
	return &SessionHandler{
		manager:   manager,
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/sessions
// @Summary      Start a recording session
// @Description  Open the capture device and begin recording a confession
// @Tags         Sessions
// @Accept       json
// @Produce      json
// @Param        request body model.SessionStartRequest true "Session start request"
// @Success      201 {object} model.SessionStartResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      403 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/sessions [post]
func (h *SessionHandler) Start(c *fiber.Ctx) error {
	var req model.SessionStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.manager.Start(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		switch {
		case errors.Is(err, capture.ErrPermissionDenied):
			return response.Error(c, fiber.StatusForbidden, response.CodePermissionDenied, "Camera or microphone permission denied", nil)
		case errors.Is(err, capture.ErrDeviceUnavailable):
			return response.Error(c, fiber.StatusServiceUnavailable, response.CodeDeviceUnavailable, "Capture device unavailable", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, result)
}

// Stop handles POST /api/sessions/:id/stop
// @Summary      Stop recording
// @Description  Stop the active recording and move the session to review
// @Tags         Sessions
// @Produce      json
// @Param        id path string true "Session ID"
// @Success      200 {object} model.SessionStopResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/sessions/{id}/stop [post]
func (h *SessionHandler) Stop(c *fiber.Ctx) error {
	state, err := h.ownedSession(c)
	if err != nil {
		return err
	}

	result, err := h.manager.Stop(state.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, capture.ErrNotRecording), errors.Is(err, pipeline.ErrInvalidTransition):
			return response.Conflict(c, response.CodeInvalidStage, "Session is not recording")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Anonymize handles POST /api/sessions/:id/anonymize
// @Summary      Start anonymization
// @Description  Queue a background job that blurs faces and changes the voice
// @Tags         Sessions
// @Produce      json
// @Param        id path string true "Session ID"
// @Success      202 {object} model.JobStartResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/sessions/{id}/anonymize [post]
func (h *SessionHandler) Anonymize(c *fiber.Ctx) error {
	state, err := h.ownedSession(c)
	if err != nil {
		return err
	}

	result, err := h.service.StartTransform(c.Context(), state.SessionID)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidTransition) {
			return response.Conflict(c, response.CodeInvalidStage, err.Error())
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Captions handles POST /api/sessions/:id/captions
// @Summary      Start caption generation
// @Description  Queue a background transcription job for the recording
// @Tags         Sessions
// @Produce      json
// @Param        id path string true "Session ID"
// @Success      202 {object} model.JobStartResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/sessions/{id}/captions [post]
func (h *SessionHandler) Captions(c *fiber.Ctx) error {
	state, err := h.ownedSession(c)
	if err != nil {
		return err
	}

	result, err := h.service.StartCaption(c.Context(), state.SessionID)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidTransition) {
			return response.Conflict(c, response.CodeInvalidStage, err.Error())
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Publish handles POST /api/sessions/:id/publish
// @Summary      Publish a confession
// @Description  Queue the final publish job: pending stages are finished, then the video is uploaded
// @Tags         Sessions
// @Accept       json
// @Produce      json
// @Param        id path string true "Session ID"
// @Param        request body model.PublishRequest false "Publish options"
// @Success      202 {object} model.JobStartResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/sessions/{id}/publish [post]
func (h *SessionHandler) Publish(c *fiber.Ctx) error {
	state, err := h.ownedSession(c)
	if err != nil {
		return err
	}

	var req model.PublishRequest
	// The body is optional; an empty body means no unblurred fallback.
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}

	result, err := h.service.StartPublish(c.Context(), state.SessionID, req.AllowUnblurred)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrInvalidTransition):
			return response.Conflict(c, response.CodeInvalidStage, err.Error())
		case errors.Is(err, pipeline.ErrBlurNotApplied):
			return response.Conflict(c, response.CodeBlurNotApplied, "Anonymization has not completed; confirm unblurred publish explicitly")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Discard handles POST /api/sessions/:id/discard
// @Summary      Discard a session
// @Description  Cancel any in-flight work and delete all local media for the session
// @Tags         Sessions
// @Produce      json
// @Param        id path string true "Session ID"
// @Success      204
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/sessions/{id}/discard [post]
func (h *SessionHandler) Discard(c *fiber.Ctx) error {
	state, err := h.ownedSession(c)
	if err != nil {
		return err
	}

	if err := h.manager.Discard(state.SessionID); err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.NoContent(c)
}

// Retake handles POST /api/sessions/:id/retake
// @Summary      Retake a recording
// @Description  Discard the current recording and immediately start a new capture with the same options
// @Tags         Sessions
// @Produce      json
// @Param        id path string true "Session ID"
// @Success      200 {object} model.SessionStartResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/sessions/{id}/retake [post]
func (h *SessionHandler) Retake(c *fiber.Ctx) error {
	state, err := h.ownedSession(c)
	if err != nil {
		return err
	}

	result, err := h.manager.Retake(c.Context(), state.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrInvalidTransition):
			return response.Conflict(c, response.CodeInvalidStage, err.Error())
		case errors.Is(err, capture.ErrPermissionDenied):
			return response.Error(c, fiber.StatusForbidden, response.CodePermissionDenied, "Camera or microphone permission denied", nil)
		case errors.Is(err, capture.ErrDeviceUnavailable):
			return response.Error(c, fiber.StatusServiceUnavailable, response.CodeDeviceUnavailable, "Capture device unavailable", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Get handles GET /api/sessions/:id
// @Summary      Get session state
// @Description  Return the full pipeline state of a session
// @Tags         Sessions
// @Produce      json
// @Param        id path string true "Session ID"
// @Success      200 {object} model.PipelineState
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/sessions/{id} [get]
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	state, err := h.ownedSession(c)
	if err != nil {
		return err
	}
	return response.OK(c, state)
}

// ownedSession loads the session from the path param and enforces that the
// requester owns it. Foreign sessions read as not found.
func (h *SessionHandler) ownedSession(c *fiber.Ctx) (model.PipelineState, error) {
	sessionID := c.Params("id")
	if sessionID == "" {
		return model.PipelineState{}, response.ValidationError(c, "Session ID is required", nil)
	}

	state, err := h.manager.Get(sessionID)
	if err != nil {
		return model.PipelineState{}, response.NotFound(c, "Session not found")
	}
	if state.UserID != middleware.GetUserID(c) {
		return model.PipelineState{}, response.NotFound(c, "Session not found")
	}
	return state, nil
}
