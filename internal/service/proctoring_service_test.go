package service_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/labguard/labguard-api/internal/dto"
	"github.com/labguard/labguard-api/internal/models"
	"github.com/labguard/labguard-api/internal/service"
)

type stubProctoringRepo struct {
	mu       sync.Mutex
	sessions map[uint]models.ProctoringSession
	events   []models.ProctoringEvent
	nextID   uint
}

func newStubProctoringRepo() *stubProctoringRepo {
	return &stubProctoringRepo{sessions: make(map[uint]models.ProctoringSession), nextID: 1}
}

func (r *stubProctoringRepo) GetByID(_ context.Context, id uint) (models.ProctoringSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return models.ProctoringSession{}, gorm.ErrRecordNotFound
	}
	return session, nil
}

func (r *stubProctoringRepo) GetOrCreate(_ context.Context, studentID, activityID uint) (models.ProctoringSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.sessions {
		if session.StudentID == studentID && session.ActivityID == activityID {
			return session, nil
		}
	}
	session := models.ProctoringSession{
		ID:         r.nextID,
		StudentID:  studentID,
		ActivityID: activityID,
		Status:     models.ProctoringStatusActive,
	}
	r.nextID++
	r.sessions[session.ID] = session
	return session, nil
}

func (r *stubProctoringRepo) Save(_ context.Context, session *models.ProctoringSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = *session
	return nil
}

func (r *stubProctoringRepo) AppendEvent(_ context.Context, event *models.ProctoringEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

type publishedEvent struct {
	Channel string
	Type    string
	Payload map[string]interface{}
}

type stubEventBus struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (b *stubEventBus) Publish(_ context.Context, channel string, eventType string, payload map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, publishedEvent{Channel: channel, Type: eventType, Payload: payload})
}

func (b *stubEventBus) Subscribe(string) (<-chan dto.IntegrityEvent, func()) {
	ch := make(chan dto.IntegrityEvent)
	return ch, func() { close(ch) }
}

func (b *stubEventBus) Start(context.Context) {}

func (b *stubEventBus) byType(eventType string) []publishedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []publishedEvent
	for _, e := range b.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func appendAt(t *testing.T, svc service.ProctoringService, eventType string, chars int, at time.Time) dto.ProctoringSessionResponse {
	t.Helper()
	resp, err := svc.AppendEvent(context.Background(), dto.ProctoringEventRequest{
		StudentID:  1,
		ActivityID: 1,
		Type:       eventType,
		CharCount:  chars,
		OccurredAt: at,
	})
	require.NoError(t, err)
	return resp
}

func TestProctoringTabSwitchesAndPastes(t *testing.T) {
	repo := newStubProctoringRepo()
	bus := &stubEventBus{}
	svc := service.NewProctoringService(repo, bus, zerolog.New(io.Discard))

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	appendAt(t, svc, models.ProctoringEventFocus, 0, base)

	// 12 blur/focus pairs: 130s focused, then 20s away each.
	current := base
	for i := 0; i < 12; i++ {
		current = current.Add(130 * time.Second)
		appendAt(t, svc, models.ProctoringEventBlur, 0, current)
		current = current.Add(20 * time.Second)
		appendAt(t, svc, models.ProctoringEventFocus, 0, current)
	}

	appendAt(t, svc, models.ProctoringEventPaste, 120, current)
	resp := appendAt(t, svc, models.ProctoringEventPaste, 120, current)

	require.Equal(t, 12, resp.TabSwitches)
	require.Equal(t, 2, resp.PasteCount)
	require.Equal(t, 2, resp.LargePasteCount)
	require.Equal(t, 240, resp.TotalPastedChars)
	require.Equal(t, 13, resp.TimeAwayPct)

	bySeverity := map[string]string{}
	for _, flag := range resp.Flags {
		bySeverity[flag.Type] = flag.Severity
	}
	require.Equal(t, models.SeverityMedium, bySeverity[service.FlagExcessiveTabSwitches])
	require.Equal(t, models.SeverityMedium, bySeverity[service.FlagLargePaste])
	require.Equal(t, models.SeverityMedium, bySeverity[service.FlagCopyPastePattern])
	require.NotContains(t, bySeverity, service.FlagLongAbsence)

	report, err := svc.Integrity(context.Background(), resp.SessionID)
	require.NoError(t, err)
	require.Equal(t, 70, report.IntegrityScore)
	require.Equal(t, service.ClassificationModerate, report.Classification)
}

func TestProctoringBlockedPaste(t *testing.T) {
	repo := newStubProctoringRepo()
	bus := &stubEventBus{}
	svc := service.NewProctoringService(repo, bus, zerolog.New(io.Discard))

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	appendAt(t, svc, models.ProctoringEventFocus, 0, base)
	resp := appendAt(t, svc, models.ProctoringEventBlockedPaste, 0, base.Add(time.Minute))

	bySeverity := map[string]string{}
	for _, flag := range resp.Flags {
		bySeverity[flag.Type] = flag.Severity
	}
	require.Equal(t, models.SeverityHigh, bySeverity[service.FlagBlockedExternalPaste])

	report, err := svc.Integrity(context.Background(), resp.SessionID)
	require.NoError(t, err)
	// 15 for the blocked paste plus 10 for the high severity flag
	require.Equal(t, 75, report.IntegrityScore)
}

func TestProctoringBlockedPasteDeductionCapped(t *testing.T) {
	repo := newStubProctoringRepo()
	bus := &stubEventBus{}
	svc := service.NewProctoringService(repo, bus, zerolog.New(io.Discard))

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	appendAt(t, svc, models.ProctoringEventFocus, 0, base)
	var resp dto.ProctoringSessionResponse
	for i := 0; i < 5; i++ {
		resp = appendAt(t, svc, models.ProctoringEventBlockedPaste, 0, base.Add(time.Duration(i+1)*time.Minute))
	}

	report, err := svc.Integrity(context.Background(), resp.SessionID)
	require.NoError(t, err)
	// blocked paste deduction caps at 30; high flag adds 10
	require.Equal(t, 60, report.IntegrityScore)
}

func TestProctoringIntegrityFloorZero(t *testing.T) {
	repo := newStubProctoringRepo()
	bus := &stubEventBus{}
	svc := service.NewProctoringService(repo, bus, zerolog.New(io.Discard))

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	current := base
	appendAt(t, svc, models.ProctoringEventFocus, 0, current)
	for i := 0; i < 20; i++ {
		current = current.Add(10 * time.Second)
		appendAt(t, svc, models.ProctoringEventBlur, 0, current)
		current = current.Add(11 * time.Minute)
		appendAt(t, svc, models.ProctoringEventFocus, 0, current)
	}
	for i := 0; i < 4; i++ {
		appendAt(t, svc, models.ProctoringEventPaste, 400, current)
	}
	resp := appendAt(t, svc, models.ProctoringEventBlockedPaste, 0, current)

	report, err := svc.Integrity(context.Background(), resp.SessionID)
	require.NoError(t, err)
	require.Equal(t, 0, report.IntegrityScore)
	require.Equal(t, service.ClassificationReview, report.Classification)
}

func TestProctoringFrozenSessionRejectsEvents(t *testing.T) {
	repo := newStubProctoringRepo()
	bus := &stubEventBus{}
	svc := service.NewProctoringService(repo, bus, zerolog.New(io.Discard))

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	resp := appendAt(t, svc, models.ProctoringEventFocus, 0, base)

	require.NoError(t, svc.Freeze(context.Background(), resp.SessionID))
	require.NoError(t, svc.Freeze(context.Background(), resp.SessionID))

	_, err := svc.AppendEvent(context.Background(), dto.ProctoringEventRequest{
		StudentID:  1,
		ActivityID: 1,
		Type:       models.ProctoringEventPaste,
		CharCount:  10,
		OccurredAt: base.Add(time.Minute),
	})
	require.ErrorIs(t, err, service.ErrSessionFrozen)
}

func TestProctoringFlagEventsEmittedOncePerSeverity(t *testing.T) {
	repo := newStubProctoringRepo()
	bus := &stubEventBus{}
	svc := service.NewProctoringService(repo, bus, zerolog.New(io.Discard))

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	current := base
	appendAt(t, svc, models.ProctoringEventFocus, 0, current)
	for i := 0; i < 8; i++ {
		current = current.Add(time.Minute)
		appendAt(t, svc, models.ProctoringEventBlur, 0, current)
		current = current.Add(time.Second)
		appendAt(t, svc, models.ProctoringEventFocus, 0, current)
	}

	tabFlagEvents := 0
	for _, e := range bus.byType(dto.EventMonitoringFlag) {
		if e.Payload["flag_type"] == service.FlagExcessiveTabSwitches {
			tabFlagEvents++
		}
	}
	// raised once at medium, published to the session and instructor channels
	require.Equal(t, 2, tabFlagEvents)
}

func TestProctoringConcurrentPastesAreNotLost(t *testing.T) {
	repo := newStubProctoringRepo()
	bus := &stubEventBus{}
	svc := service.NewProctoringService(repo, bus, zerolog.New(io.Discard))

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	appendAt(t, svc, models.ProctoringEventFocus, 0, base)

	const writers = 50
	start := make(chan struct{})
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			_, err := svc.AppendEvent(context.Background(), dto.ProctoringEventRequest{
				StudentID:  1,
				ActivityID: 1,
				Type:       models.ProctoringEventPaste,
				CharCount:  10,
				OccurredAt: base.Add(time.Duration(n+1) * time.Second),
			})
			errs <- err
		}(i)
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	resp := appendAt(t, svc, models.ProctoringEventCodeChange, 0, base.Add(time.Minute))
	require.Equal(t, writers, resp.PasteCount)
	require.Equal(t, writers*10, resp.TotalPastedChars)
}

func TestProctoringIntegrityUnknownSession(t *testing.T) {
	repo := newStubProctoringRepo()
	svc := service.NewProctoringService(repo, &stubEventBus{}, zerolog.New(io.Discard))

	_, err := svc.Integrity(context.Background(), 99)
	require.ErrorIs(t, err, service.ErrSessionNotFound)
}
