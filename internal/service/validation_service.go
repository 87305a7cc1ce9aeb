package service

import (
	"context"
	"errors"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/labguard/labguard-api/internal/analysis"
	"github.com/labguard/labguard-api/internal/dto"
	"github.com/labguard/labguard-api/internal/models"
	"github.com/labguard/labguard-api/internal/observability"
	"github.com/labguard/labguard-api/internal/queue"
	"github.com/labguard/labguard-api/internal/repository"
	"github.com/labguard/labguard-api/pkg/ai"
)

// Model tags used for verdicts synthesized from static analysis.
const (
	modelTagStatic         = "static-analysis"
	modelTagStaticFallback = "static-analysis-fallback"
)

// Flag type attached when the pipeline confirms a workaround.
const flagAIDetectedWorkaround = "ai_detected_workaround"

// flaggedConfidenceThreshold is the minimum confidence for a not-legitimate
// verdict to flag the submission.
const flaggedConfidenceThreshold = 60

// ErrSubmissionNotFound indicates the submission cannot be located.
var ErrSubmissionNotFound = errors.New("submission not found")

// ValidationService orchestrates the per-submission integrity pipeline.
type ValidationService interface {
	// Process runs the pipeline for one submission; it is the queue worker
	// entry point and is idempotent for already-resolved submissions.
	Process(ctx context.Context, submissionID uint) error
	// ForceRevalidate resets the validation record and re-enqueues.
	ForceRevalidate(ctx context.Context, submissionID uint) error
	// ListRecoverable returns pending passed submissions for startup recovery.
	ListRecoverable(ctx context.Context) ([]uint, error)
}

// ValidationConfig carries the orchestrator thresholds.
type ValidationConfig struct {
	ShortCircuitScore int
	RecoveryWindow    time.Duration
	RecoveryBatch     int
}

type validationService struct {
	submissions repository.SubmissionRepository
	testCases   repository.TestCaseRepository
	validator   ai.Validator
	events      EventBus
	cfg         ValidationConfig
	sanitizer   *bluemonday.Policy
	tracer      trace.Tracer
	logger      zerolog.Logger
}

// NewValidationService constructs the orchestrator.
func NewValidationService(
	submissionRepo repository.SubmissionRepository,
	testCaseRepo repository.TestCaseRepository,
	validator ai.Validator,
	events EventBus,
	cfg ValidationConfig,
	logger zerolog.Logger,
) ValidationService {
	if cfg.ShortCircuitScore <= 0 {
		cfg.ShortCircuitScore = 50
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = 24 * time.Hour
	}
	if cfg.RecoveryBatch <= 0 {
		cfg.RecoveryBatch = 50
	}

	return &validationService{
		submissions: submissionRepo,
		testCases:   testCaseRepo,
		validator:   validator,
		events:      events,
		cfg:         cfg,
		sanitizer:   bluemonday.StrictPolicy(),
		tracer:      otel.Tracer("github.com/labguard/labguard-api/internal/service/validation"),
		logger:      logger.With().Str("component", "validation_service").Logger(),
	}
}

var _ queue.Processor = (ValidationService)(nil)

func (s *validationService) Process(parent context.Context, submissionID uint) error {
	ctx, span := s.tracer.Start(parent, "validation.process", trace.WithAttributes(
		attribute.Int64("submission_id", int64(submissionID)),
	))
	defer span.End()

	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn().Uint("submission_id", submissionID).Msg("submission vanished before validation")
			return ErrSubmissionNotFound
		}
		return err
	}

	// Idempotence gate: a resolved submission is never re-validated within
	// the same generation.
	if !submission.NeedsValidation() {
		return nil
	}

	// Only passing submissions warrant integrity checks.
	if submission.Status != models.SubmissionStatusPassed {
		return s.skip(ctx, submission, "submission did not pass")
	}

	cases, err := s.testCases.ListByActivity(ctx, submission.ActivityID)
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		return s.skip(ctx, submission, "activity has no test cases")
	}

	static := analysis.Analyze(submission.Source, submission.Language, cases, submission.Activity.Kind)
	staticFlagged := static.SuspicionScore >= s.cfg.ShortCircuitScore ||
		models.HasSeverityAtLeast(static.Flags, models.SeverityHigh)

	var verdict models.Verdict
	var source string

	switch {
	case staticFlagged:
		// The static verdict is promoted to final; the AI stage is skipped.
		verdict = s.staticVerdict(static)
		source = models.ValidationSourceStaticOnly

	default:
		aiVerdict, aiErr := s.validator.Validate(ctx, buildValidationInput(submission, cases))
		switch {
		case aiErr == nil && aiVerdict != nil:
			verdict = verdictFromAI(*aiVerdict)
			source = models.ValidationSourceAI

		case static.SuspicionScore >= analysis.SuspicionThreshold:
			verdict = s.fallbackVerdict(static)
			source = models.ValidationSourceStaticFallback

		default:
			// AI unavailable and nothing suspicious: leave the record
			// pending for the recovery scan.
			s.logger.Info().Err(aiErr).Uint("submission_id", submission.ID).
				Msg("ai unavailable, leaving validation pending")
			return nil
		}
	}

	flagged := !verdict.IsLegitimate && verdict.Confidence >= flaggedConfidenceThreshold

	status := models.ValidationStatusValidated
	if flagged {
		status = models.ValidationStatusFlagged
	}

	analysisRecord := s.mergeAnalysis(submission.Analysis, static, verdict, flagged)
	validationRecord := models.ValidationRecord{
		Status:  status,
		Source:  source,
		Verdict: datatypes.NewJSONType(verdict),
	}

	if err := s.submissions.FinalizeValidation(ctx, submission.ID, validationRecord, analysisRecord); err != nil {
		if errors.Is(err, repository.ErrValidationConflict) {
			// Non-monotonic transition attempt is a bug; leave the record
			// untouched and surface it.
			s.logger.Error().Uint("submission_id", submission.ID).
				Msg("validation status changed concurrently, aborting write")
		}
		return err
	}

	observability.ValidationVerdicts().WithLabelValues(status, source).Inc()

	if flagged {
		s.emitFlagged(ctx, submission, verdict)
	}

	return nil
}

func (s *validationService) ForceRevalidate(ctx context.Context, submissionID uint) error {
	if _, err := s.submissions.GetByID(ctx, submissionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubmissionNotFound
		}
		return err
	}
	return s.submissions.ResetValidation(ctx, submissionID)
}

func (s *validationService) ListRecoverable(ctx context.Context) ([]uint, error) {
	return s.submissions.ListPendingValidation(ctx, s.cfg.RecoveryWindow, s.cfg.RecoveryBatch)
}

func (s *validationService) skip(ctx context.Context, submission models.Submission, reason string) error {
	s.logger.Debug().Uint("submission_id", submission.ID).Str("reason", reason).Msg("validation skipped")
	if err := s.submissions.MarkValidationSkipped(ctx, submission.ID); err != nil {
		return err
	}
	observability.ValidationVerdicts().WithLabelValues(models.ValidationStatusSkipped, "").Inc()
	return nil
}

func (s *validationService) staticVerdict(static analysis.StaticResult) models.Verdict {
	confidence := static.SuspicionScore + 10
	if confidence > 100 {
		confidence = 100
	}

	return models.Verdict{
		IsLegitimate:        false,
		FollowsInstructions: false,
		IsHardcoded:         true,
		Confidence:          confidence,
		Issues:              models.FlagDescriptions(static.Flags),
		Explanation:         "static analysis detected workaround patterns",
		ModelTag:            modelTagStatic,
		DecidedAt:           time.Now().UTC(),
	}
}

func (s *validationService) fallbackVerdict(static analysis.StaticResult) models.Verdict {
	return models.Verdict{
		IsLegitimate:        !static.IsSuspicious,
		FollowsInstructions: !static.IsSuspicious,
		IsHardcoded:         static.IsSuspicious,
		Confidence:          static.SuspicionScore,
		Issues:              models.FlagDescriptions(static.Flags),
		Explanation:         "ai validation unavailable, decided from static analysis",
		ModelTag:            modelTagStaticFallback,
		DecidedAt:           time.Now().UTC(),
	}
}

func verdictFromAI(v ai.Verdict) models.Verdict {
	return models.Verdict{
		IsLegitimate:        v.IsLegitimate,
		FollowsInstructions: v.FollowsInstructions,
		IsHardcoded:         v.IsHardcoded,
		Confidence:          v.Confidence,
		Issues:              v.Issues,
		Explanation:         v.Explanation,
		ModelTag:            v.ModelTag,
		FallbackLevel:       v.FallbackLevel,
		LatencyMs:           v.LatencyMs,
		DecidedAt:           time.Now().UTC(),
	}
}

// mergeAnalysis folds static flags into the stored analysis record and, on a
// flagged verdict, raises the suspicion score and the ai_detected_workaround
// flag. The suspicion score never decreases and flags never duplicate by type.
func (s *validationService) mergeAnalysis(existing models.AnalysisRecord, static analysis.StaticResult, verdict models.Verdict, flagged bool) models.AnalysisRecord {
	record := models.AnalysisRecord{
		SuspicionScore: existing.SuspicionScore,
		Flags:          append(datatypes.JSONSlice[models.Flag]{}, existing.Flags...),
	}

	flags := []models.Flag(record.Flags)
	for _, flag := range static.Flags {
		flags = models.UpsertFlag(flags, flag)
	}

	if static.SuspicionScore > record.SuspicionScore {
		record.SuspicionScore = static.SuspicionScore
	}

	if flagged {
		if verdict.Confidence > record.SuspicionScore {
			record.SuspicionScore = verdict.Confidence
		}

		severity := models.SeverityMedium
		if verdict.Confidence >= 85 {
			severity = models.SeverityHigh
		}
		flags = models.UpsertFlag(flags, models.Flag{
			Type:        flagAIDetectedWorkaround,
			Severity:    severity,
			Description: "validation concluded the solution works around the tests",
		})
	}

	record.Flags = datatypes.JSONSlice[models.Flag](flags)
	return record
}

func (s *validationService) emitFlagged(ctx context.Context, submission models.Submission, verdict models.Verdict) {
	issues := make([]string, 0, len(verdict.Issues))
	for _, issue := range verdict.Issues {
		issues = append(issues, s.sanitizer.Sanitize(issue))
	}

	payload := map[string]interface{}{
		"submission_id": submission.ID,
		"student_id":    submission.StudentID,
		"activity_id":   submission.ActivityID,
		"session_id":    submission.SessionID,
		"confidence":    verdict.Confidence,
		"issues":        issues,
		"explanation":   s.sanitizer.Sanitize(verdict.Explanation),
		"timestamp":     time.Now().UTC(),
	}

	if submission.SessionID != 0 {
		s.events.Publish(ctx, SessionChannel(submission.SessionID), dto.EventSubmissionFlagged, payload)
	}
	s.events.Publish(ctx, InstructorChannel, dto.EventSubmissionFlagged, payload)
}

func buildValidationInput(submission models.Submission, cases []models.TestCase) ai.ValidationInput {
	summaries := make([]ai.TestCaseSummary, 0, len(cases))
	for _, tc := range cases {
		summaries = append(summaries, ai.TestCaseSummary{
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
		})
	}

	return ai.ValidationInput{
		ActivityTitle:       submission.Activity.Title,
		ActivityDescription: submission.Activity.Description,
		Language:            submission.Language,
		Source:              submission.Source,
		TestCases:           summaries,
	}
}
