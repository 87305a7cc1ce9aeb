package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/labguard/labguard-api/internal/dto"
	"github.com/labguard/labguard-api/internal/models"
	"github.com/labguard/labguard-api/internal/observability"
	"github.com/labguard/labguard-api/internal/repository"
)

// Behavioral flag types derived from session telemetry.
const (
	FlagExcessiveTabSwitches = "excessive_tab_switches"
	FlagLargePaste           = "large_paste"
	FlagCopyPastePattern     = "copy_paste_pattern"
	FlagLongAbsence          = "long_absence"
	FlagBlockedExternalPaste = "blocked_external_paste"
)

// Integrity classification bands.
const (
	ClassificationGood        = "Good Standing"
	ClassificationModerate    = "Moderate Concerns"
	ClassificationSignificant = "Significant Concerns"
	ClassificationReview      = "Requires Review"
)

// Absence segment thresholds for the long_absence flag.
const (
	longAbsenceMedium = 5 * time.Minute
	longAbsenceHigh   = 10 * time.Minute
)

var (
	// ErrSessionNotFound indicates an unknown proctoring session.
	ErrSessionNotFound = errors.New("proctoring session not found")
	// ErrSessionFrozen is returned for events sent after finalization.
	ErrSessionFrozen = errors.New("proctoring session is frozen")
)

// ProctoringService folds editor telemetry into per-session counters and
// derives the integrity score from them. Raw events are retained as an
// append-only audit log; the score is always recomputed from counters.
type ProctoringService interface {
	AppendEvent(ctx context.Context, req dto.ProctoringEventRequest) (dto.ProctoringSessionResponse, error)
	Integrity(ctx context.Context, sessionID uint) (dto.IntegrityResponse, error)
	// Freeze stops a session from accepting further events, typically when
	// the owning submission is finalized.
	Freeze(ctx context.Context, sessionID uint) error
}

type proctoringService struct {
	sessions repository.ProctoringRepository
	events   EventBus
	tracer   trace.Tracer
	logger   zerolog.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewProctoringService constructs the telemetry scorer.
func NewProctoringService(sessionRepo repository.ProctoringRepository, events EventBus, logger zerolog.Logger) ProctoringService {
	return &proctoringService{
		sessions: sessionRepo,
		events:   events,
		tracer:   otel.Tracer("github.com/labguard/labguard-api/internal/service/proctoring"),
		logger:   logger.With().Str("component", "proctoring_service").Logger(),
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex serializing writes for one (student, activity)
// session. Events for a session fold into shared counters, so concurrent
// appends must not interleave their read-modify-write cycles.
func (s *proctoringService) sessionLock(studentID, activityID uint) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%d:%d", studentID, activityID)
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

func (s *proctoringService) AppendEvent(parent context.Context, req dto.ProctoringEventRequest) (dto.ProctoringSessionResponse, error) {
	ctx, span := s.tracer.Start(parent, "proctoring.append_event", trace.WithAttributes(
		attribute.String("event_type", req.Type),
	))
	defer span.End()

	lock := s.sessionLock(req.StudentID, req.ActivityID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.sessions.GetOrCreate(ctx, req.StudentID, req.ActivityID)
	if err != nil {
		return dto.ProctoringSessionResponse{}, err
	}
	if session.Frozen() {
		return dto.ProctoringSessionResponse{}, ErrSessionFrozen
	}

	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now().UTC()
	}

	s.applyEvent(&session, req.Type, req.CharCount, occurredAt)
	newFlags := s.refreshFlags(&session)

	if err := s.sessions.AppendEvent(ctx, &models.ProctoringEvent{
		SessionID:  session.ID,
		Type:       req.Type,
		CharCount:  req.CharCount,
		Payload:    datatypes.JSONMap(req.Payload),
		OccurredAt: occurredAt,
	}); err != nil {
		return dto.ProctoringSessionResponse{}, err
	}
	if err := s.sessions.Save(ctx, &session); err != nil {
		return dto.ProctoringSessionResponse{}, err
	}

	for _, flag := range newFlags {
		s.emitMonitoringFlag(ctx, session, flag)
	}

	return sessionResponse(session), nil
}

func (s *proctoringService) Integrity(parent context.Context, sessionID uint) (dto.IntegrityResponse, error) {
	ctx, span := s.tracer.Start(parent, "proctoring.integrity", trace.WithAttributes(
		attribute.Int64("session_id", int64(sessionID)),
	))
	defer span.End()

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.IntegrityResponse{}, ErrSessionNotFound
		}
		return dto.IntegrityResponse{}, err
	}

	score, deductions := integrityScore(session)
	return dto.IntegrityResponse{
		SessionID:      session.ID,
		IntegrityScore: score,
		Classification: classify(score),
		TimeAwayPct:    session.TimeAwayPct(),
		Deductions:     deductions,
		Flags:          []models.Flag(session.Flags),
	}, nil
}

func (s *proctoringService) Freeze(ctx context.Context, sessionID uint) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	lock := s.sessionLock(session.StudentID, session.ActivityID)
	lock.Lock()
	defer lock.Unlock()

	// Reload under the lock; an append may have landed in between.
	session, err = s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Frozen() {
		return nil
	}

	// Close the open time segment before freezing so away time is not lost.
	s.accrue(&session, s.now().UTC())
	session.Status = models.ProctoringStatusFrozen
	return s.sessions.Save(ctx, &session)
}

// applyEvent advances the focus state machine and the paste counters. Time is
// accrued against the state that was current when the event arrived.
func (s *proctoringService) applyEvent(session *models.ProctoringSession, eventType string, charCount int, occurredAt time.Time) {
	s.accrue(session, occurredAt)

	switch eventType {
	case models.ProctoringEventBlur:
		if session.Status == models.ProctoringStatusActive {
			session.TabSwitches++
		}
		session.Status = models.ProctoringStatusAway

	case models.ProctoringEventFocus:
		session.Status = models.ProctoringStatusActive

	case models.ProctoringEventIdleStart:
		if session.Status != models.ProctoringStatusIdle {
			session.IdleCount++
		}
		session.Status = models.ProctoringStatusIdle

	case models.ProctoringEventIdleEnd:
		if session.Status == models.ProctoringStatusIdle {
			session.Status = models.ProctoringStatusActive
		}

	case models.ProctoringEventPaste:
		session.PasteCount++
		session.TotalPastedChars += charCount
		if charCount > models.LargePasteChars {
			session.LargePasteCount++
		}

	case models.ProctoringEventBlockedPaste:
		session.BlockedPasteCount++
	}

	at := occurredAt
	session.LastTransitionAt = &at
}

// accrue charges the elapsed time since the last event to the current state.
// Idle time counts toward away time but not toward the longest-absence record.
func (s *proctoringService) accrue(session *models.ProctoringSession, until time.Time) {
	if session.LastTransitionAt == nil {
		return
	}
	delta := until.Sub(*session.LastTransitionAt).Milliseconds()
	if delta <= 0 {
		return
	}

	switch session.Status {
	case models.ProctoringStatusActive:
		session.TotalActiveMs += delta
	case models.ProctoringStatusAway:
		session.TotalAwayMs += delta
		if delta > session.LongestAwayMs {
			session.LongestAwayMs = delta
		}
	case models.ProctoringStatusIdle:
		session.TotalAwayMs += delta
	}
}

// refreshFlags re-derives behavioral flags from the counters and upserts them
// into the session. It returns only flags that are new or upgraded, so event
// emission stays idempotent across repeated appends.
func (s *proctoringService) refreshFlags(session *models.ProctoringSession) []models.Flag {
	derived := deriveFlags(*session)

	existing := []models.Flag(session.Flags)
	var changed []models.Flag
	for _, flag := range derived {
		before := severityOf(existing, flag.Type)
		existing = models.UpsertFlag(existing, flag)
		if after := severityOf(existing, flag.Type); after != before {
			changed = append(changed, flag)
			observability.ProctoringFlags().WithLabelValues(flag.Type, flag.Severity).Inc()
		}
	}
	session.Flags = datatypes.JSONSlice[models.Flag](existing)
	return changed
}

func severityOf(flags []models.Flag, flagType string) string {
	for _, f := range flags {
		if f.Type == flagType {
			return f.Severity
		}
	}
	return ""
}

func deriveFlags(session models.ProctoringSession) []models.Flag {
	var flags []models.Flag

	if session.TabSwitches >= 5 {
		severity := models.SeverityMedium
		if session.TabSwitches >= 15 {
			severity = models.SeverityHigh
		}
		flags = append(flags, models.Flag{
			Type:        FlagExcessiveTabSwitches,
			Severity:    severity,
			Description: fmt.Sprintf("switched away from the editor %d times", session.TabSwitches),
		})
	}

	if session.LargePasteCount >= 1 {
		severity := models.SeverityMedium
		if session.LargePasteCount >= 3 || session.TotalPastedChars > 500 {
			severity = models.SeverityHigh
		}
		flags = append(flags, models.Flag{
			Type:        FlagLargePaste,
			Severity:    severity,
			Description: fmt.Sprintf("%d large paste(s) totaling %d characters", session.LargePasteCount, session.TotalPastedChars),
		})
	}

	if session.TotalPastedChars > 100 {
		severity := models.SeverityMedium
		if session.TotalPastedChars > 300 {
			severity = models.SeverityHigh
		}
		flags = append(flags, models.Flag{
			Type:        FlagCopyPastePattern,
			Severity:    severity,
			Description: fmt.Sprintf("pasted %d characters across %d paste(s)", session.TotalPastedChars, session.PasteCount),
		})
	}

	awayPct := session.TimeAwayPct()
	longestAway := time.Duration(session.LongestAwayMs) * time.Millisecond
	if longestAway > longAbsenceMedium || awayPct >= 30 {
		severity := models.SeverityMedium
		if longestAway > longAbsenceHigh || awayPct >= 50 {
			severity = models.SeverityHigh
		}
		flags = append(flags, models.Flag{
			Type:        FlagLongAbsence,
			Severity:    severity,
			Description: fmt.Sprintf("away for %d%% of the session, longest absence %s", awayPct, longestAway.Round(time.Second)),
		})
	}

	if session.BlockedPasteCount >= 1 {
		flags = append(flags, models.Flag{
			Type:        FlagBlockedExternalPaste,
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("%d paste attempt(s) blocked by the editor", session.BlockedPasteCount),
		})
	}

	return flags
}

// integrityScore applies the deduction table to the counters. Deductions are
// additive within a category but each category contributes only its own band.
func integrityScore(session models.ProctoringSession) (int, []dto.IntegrityDeduction) {
	score := 100
	var deductions []dto.IntegrityDeduction

	deduct := func(reason string, points int) {
		if points <= 0 {
			return
		}
		score -= points
		deductions = append(deductions, dto.IntegrityDeduction{Reason: reason, Points: points})
	}

	awayPct := session.TimeAwayPct()
	switch {
	case awayPct > 50:
		deduct("time away exceeds 50% of session", 30)
	case awayPct > 30:
		deduct("time away exceeds 30% of session", 20)
	case awayPct > 15:
		deduct("time away exceeds 15% of session", 10)
	}

	switch {
	case session.TabSwitches >= 15:
		deduct("15 or more tab switches", 25)
	case session.TabSwitches >= 10:
		deduct("10 or more tab switches", 10)
	case session.TabSwitches >= 5:
		deduct("5 or more tab switches", 10)
	case session.TabSwitches >= 3:
		deduct("3 or more tab switches", 5)
	}

	switch {
	case session.LargePasteCount >= 3:
		deduct("3 or more large pastes", 30)
	case session.LargePasteCount >= 2:
		deduct("2 large pastes", 20)
	case session.LargePasteCount >= 1:
		deduct("large paste detected", 15)
	}

	if session.BlockedPasteCount > 0 {
		points := 15 * session.BlockedPasteCount
		if points > 30 {
			points = 30
		}
		deduct("blocked paste attempts", points)
	}

	highFlags := 0
	for _, flag := range session.Flags {
		if models.SeverityRank(flag.Severity) >= models.SeverityRank(models.SeverityHigh) {
			highFlags++
		}
	}
	if highFlags > 0 {
		deduct("high severity behavioral flags", 10*highFlags)
	}

	if score < 0 {
		score = 0
	}
	return score, deductions
}

func classify(score int) string {
	switch {
	case score >= 80:
		return ClassificationGood
	case score >= 60:
		return ClassificationModerate
	case score >= 40:
		return ClassificationSignificant
	default:
		return ClassificationReview
	}
}

func (s *proctoringService) emitMonitoringFlag(ctx context.Context, session models.ProctoringSession, flag models.Flag) {
	score, _ := integrityScore(session)
	payload := map[string]interface{}{
		"session_id":      session.ID,
		"student_id":      session.StudentID,
		"activity_id":     session.ActivityID,
		"flag_type":       flag.Type,
		"severity":        flag.Severity,
		"description":     flag.Description,
		"integrity_score": score,
		"timestamp":       s.now().UTC(),
	}

	s.events.Publish(ctx, SessionChannel(session.ID), dto.EventMonitoringFlag, payload)
	s.events.Publish(ctx, InstructorChannel, dto.EventMonitoringFlag, payload)
	s.logger.Info().Uint("session_id", session.ID).Str("flag", flag.Type).
		Str("severity", flag.Severity).Msg("behavioral flag raised")
}

func sessionResponse(session models.ProctoringSession) dto.ProctoringSessionResponse {
	return dto.ProctoringSessionResponse{
		SessionID:         session.ID,
		Status:            session.Status,
		TabSwitches:       session.TabSwitches,
		PasteCount:        session.PasteCount,
		LargePasteCount:   session.LargePasteCount,
		TotalPastedChars:  session.TotalPastedChars,
		BlockedPasteCount: session.BlockedPasteCount,
		IdleCount:         session.IdleCount,
		TimeAwayPct:       session.TimeAwayPct(),
		Flags:             []models.Flag(session.Flags),
	}
}
