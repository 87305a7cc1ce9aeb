package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/labguard/labguard-api/internal/dto"
	"github.com/labguard/labguard-api/internal/queue"
	"github.com/labguard/labguard-api/internal/service"
	"github.com/labguard/labguard-api/internal/utils"
)

// ValidationHandler exposes the integrity pipeline over HTTP.
type ValidationHandler struct {
	queue     *queue.ValidationQueue
	service   service.ValidationService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewValidationHandler constructs a validation handler.
func NewValidationHandler(q *queue.ValidationQueue, svc service.ValidationService, validate *validator.Validate, logger zerolog.Logger) *ValidationHandler {
	return &ValidationHandler{
		queue:     q,
		service:   svc,
		validator: validate,
		logger:    logger.With().Str("component", "validation_handler").Logger(),
	}
}

// Register wires validation routes.
func (h *ValidationHandler) Register(router fiber.Router) {
	router.Post("", h.enqueue)
	router.Get("/queue", h.queueStatus)
	router.Post("/:id/revalidate", h.revalidate)
}

func (h *ValidationHandler) enqueue(c *fiber.Ctx) error {
	var payload dto.EnqueueRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return sendValidationError(c, err)
	}

	enqueued := h.queue.Enqueue(payload.SubmissionID)
	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "submission queued for validation", dto.EnqueueResponse{
		SubmissionID: payload.SubmissionID,
		Enqueued:     enqueued,
	})
}

func (h *ValidationHandler) queueStatus(c *fiber.Ctx) error {
	status := h.queue.Status()
	return utils.SendSuccess(c, "queue status", dto.QueueStatusResponse{
		PendingCount: status.PendingCount,
		IsProcessing: status.IsProcessing,
	})
}

func (h *ValidationHandler) revalidate(c *fiber.Ctx) error {
	id, err := parseParamID(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submission id")
	}

	if err := h.service.ForceRevalidate(c.UserContext(), id); err != nil {
		if errors.Is(err, service.ErrSubmissionNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "submission not found")
		}
		h.logger.Error().Err(err).Uint("submission_id", id).Msg("failed to reset validation")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to reset validation")
	}

	enqueued := h.queue.Enqueue(id)
	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "submission queued for revalidation", dto.EnqueueResponse{
		SubmissionID: id,
		Enqueued:     enqueued,
	})
}
