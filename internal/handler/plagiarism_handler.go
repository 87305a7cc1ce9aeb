package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/labguard/labguard-api/internal/dto"
	"github.com/labguard/labguard-api/internal/service"
	"github.com/labguard/labguard-api/internal/utils"
)

// PlagiarismHandler exposes pairwise comparison and activity reports.
type PlagiarismHandler struct {
	service   service.PlagiarismService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewPlagiarismHandler constructs a plagiarism handler.
func NewPlagiarismHandler(svc service.PlagiarismService, validate *validator.Validate, logger zerolog.Logger) *PlagiarismHandler {
	return &PlagiarismHandler{
		service:   svc,
		validator: validate,
		logger:    logger.With().Str("component", "plagiarism_handler").Logger(),
	}
}

// Register wires plagiarism routes.
func (h *PlagiarismHandler) Register(router fiber.Router) {
	router.Post("/similarity", h.similarity)
	router.Get("/activities/:id/report", h.report)
}

func (h *PlagiarismHandler) similarity(c *fiber.Ctx) error {
	var payload dto.SimilarityRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return sendValidationError(c, err)
	}

	scores := h.service.Similarity(payload.CodeA, payload.CodeB, payload.Language)
	response := dto.SimilarityResponse{
		Overall:     scores.Overall,
		Jaccard:     scores.Jaccard,
		Fingerprint: scores.Fingerprint,
		Structural:  scores.Structural,
		ExactMatch:  scores.ExactMatch,
	}
	if payload.Precise {
		precise := h.service.PreciseSimilarity(payload.CodeA, payload.CodeB)
		response.Levenshtein = &precise
	}

	return utils.SendSuccess(c, "similarity computed", response)
}

func (h *PlagiarismHandler) report(c *fiber.Ctx) error {
	activityID, err := parseParamID(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid activity id")
	}

	threshold, err := parseQueryInt(c, "threshold")
	if err != nil || threshold < 0 || threshold > 100 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid threshold")
	}

	report, err := h.service.Report(c.UserContext(), activityID, threshold)
	if err != nil {
		h.logger.Error().Err(err).Uint("activity_id", activityID).Msg("failed to build plagiarism report")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to build plagiarism report")
	}

	return utils.SendSuccess(c, "plagiarism report", report)
}
