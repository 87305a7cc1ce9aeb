package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/labguard/labguard-api/internal/dto"
	"github.com/labguard/labguard-api/internal/service"
	"github.com/labguard/labguard-api/internal/utils"
)

// ProctoringHandler ingests editor telemetry and serves integrity reports.
type ProctoringHandler struct {
	service   service.ProctoringService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewProctoringHandler constructs a proctoring handler.
func NewProctoringHandler(svc service.ProctoringService, validate *validator.Validate, logger zerolog.Logger) *ProctoringHandler {
	return &ProctoringHandler{
		service:   svc,
		validator: validate,
		logger:    logger.With().Str("component", "proctoring_handler").Logger(),
	}
}

// Register wires proctoring routes. Event ingestion is student-facing; the
// integrity report and freeze are registered separately for instructors.
func (h *ProctoringHandler) Register(router fiber.Router) {
	router.Post("/events", h.appendEvent)
}

// RegisterInstructor wires the instructor-facing session routes.
func (h *ProctoringHandler) RegisterInstructor(router fiber.Router) {
	router.Get("/sessions/:id/integrity", h.integrity)
	router.Post("/sessions/:id/freeze", h.freeze)
}

func (h *ProctoringHandler) appendEvent(c *fiber.Ctx) error {
	var payload dto.ProctoringEventRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	// The authenticated student always owns the event.
	if userID := userIDFromContext(c); userID > 0 {
		payload.StudentID = userID
	}

	if err := h.validator.Struct(payload); err != nil {
		return sendValidationError(c, err)
	}

	session, err := h.service.AppendEvent(c.UserContext(), payload)
	if err != nil {
		if errors.Is(err, service.ErrSessionFrozen) {
			return utils.SendError(c, fiber.StatusConflict, "session is frozen")
		}
		h.logger.Error().Err(err).Msg("failed to append proctoring event")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to record event")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "event recorded", session)
}

func (h *ProctoringHandler) integrity(c *fiber.Ctx) error {
	sessionID, err := parseParamID(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid session id")
	}

	report, err := h.service.Integrity(c.UserContext(), sessionID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "session not found")
		}
		h.logger.Error().Err(err).Uint("session_id", sessionID).Msg("failed to compute integrity score")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to compute integrity score")
	}

	return utils.SendSuccess(c, "integrity report", report)
}

func (h *ProctoringHandler) freeze(c *fiber.Ctx) error {
	sessionID, err := parseParamID(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid session id")
	}

	if err := h.service.Freeze(c.UserContext(), sessionID); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "session not found")
		}
		h.logger.Error().Err(err).Uint("session_id", sessionID).Msg("failed to freeze session")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to freeze session")
	}

	return utils.SendSuccess(c, "session frozen", nil)
}
