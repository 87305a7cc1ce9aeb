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

	"github.com/labguard/labguard-api/internal/models"
	"github.com/labguard/labguard-api/internal/repository"
	"github.com/labguard/labguard-api/internal/service"
	"github.com/labguard/labguard-api/pkg/ai"
)

type stubSubmissionRepo struct {
	mu          sync.Mutex
	submissions map[uint]models.Submission
	pendingIDs  []uint
	finalized   int
	skipped     int
}

func newStubSubmissionRepo(submissions ...models.Submission) *stubSubmissionRepo {
	repo := &stubSubmissionRepo{submissions: make(map[uint]models.Submission)}
	for _, s := range submissions {
		repo.submissions[s.ID] = s
	}
	return repo
}

func (r *stubSubmissionRepo) GetByID(_ context.Context, id uint) (models.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	submission, ok := r.submissions[id]
	if !ok {
		return models.Submission{}, gorm.ErrRecordNotFound
	}
	return submission, nil
}

func (r *stubSubmissionRepo) FinalizeValidation(_ context.Context, id uint, validation models.ValidationRecord, analysis models.AnalysisRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	submission, ok := r.submissions[id]
	if !ok || submission.Validation.Status != models.ValidationStatusPending {
		return repository.ErrValidationConflict
	}
	submission.Validation = validation
	submission.Analysis = analysis
	r.submissions[id] = submission
	r.finalized++
	return nil
}

func (r *stubSubmissionRepo) MarkValidationSkipped(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	submission, ok := r.submissions[id]
	if !ok || submission.Validation.Status != models.ValidationStatusPending {
		return repository.ErrValidationConflict
	}
	submission.Validation.Status = models.ValidationStatusSkipped
	r.submissions[id] = submission
	r.skipped++
	return nil
}

func (r *stubSubmissionRepo) ResetValidation(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	submission, ok := r.submissions[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	submission.Validation.Status = models.ValidationStatusPending
	submission.Validation.Source = ""
	r.submissions[id] = submission
	return nil
}

func (r *stubSubmissionRepo) ListPendingValidation(context.Context, time.Duration, int) ([]uint, error) {
	return r.pendingIDs, nil
}

func (r *stubSubmissionRepo) ListPassedByActivity(_ context.Context, activityID uint) ([]models.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Submission
	for _, s := range r.submissions {
		if s.ActivityID == activityID && s.Status == models.SubmissionStatusPassed {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *stubSubmissionRepo) get(id uint) models.Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.submissions[id]
}

type stubTestCaseRepo struct {
	cases map[uint][]models.TestCase
}

func (r *stubTestCaseRepo) ListByActivity(_ context.Context, activityID uint) ([]models.TestCase, error) {
	return r.cases[activityID], nil
}

type stubAIValidator struct {
	mu      sync.Mutex
	verdict *ai.Verdict
	err     error
	calls   int
}

func (v *stubAIValidator) Validate(context.Context, ai.ValidationInput) (*ai.Verdict, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.err != nil {
		return nil, v.err
	}
	return v.verdict, nil
}

func (v *stubAIValidator) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

func sumActivityCases() map[uint][]models.TestCase {
	return map[uint][]models.TestCase{
		1: {
			{ID: 1, ActivityID: 1, Input: "5\n1 2 3 4 5", ExpectedOutput: "15", Weight: 1},
			{ID: 2, ActivityID: 1, Input: "3\n10 20 30", ExpectedOutput: "60", Weight: 1},
		},
	}
}

func passedSubmission(id uint, source string) models.Submission {
	return models.Submission{
		ID:         id,
		ActivityID: 1,
		StudentID:  10,
		SessionID:  3,
		Language:   "cpp",
		Source:     source,
		Status:     models.SubmissionStatusPassed,
		Validation: models.ValidationRecord{Status: models.ValidationStatusPending},
		Activity:   models.Activity{ID: 1, Title: "Sum the numbers", Kind: models.ActivityKindPractice},
	}
}

func newValidationService(repo *stubSubmissionRepo, aiStub *stubAIValidator, bus *stubEventBus) service.ValidationService {
	return service.NewValidationService(repo, &stubTestCaseRepo{cases: sumActivityCases()}, aiStub, bus,
		service.ValidationConfig{ShortCircuitScore: 50, RecoveryWindow: 24 * time.Hour, RecoveryBatch: 50},
		zerolog.New(io.Discard))
}

func TestValidationStaticShortCircuit(t *testing.T) {
	repo := newStubSubmissionRepo(passedSubmission(1, `int main(){cout<<"15"; cout<<"60"; return 0;}`))
	aiStub := &stubAIValidator{verdict: &ai.Verdict{IsLegitimate: true, Confidence: 95}}
	bus := &stubEventBus{}
	svc := newValidationService(repo, aiStub, bus)

	require.NoError(t, svc.Process(context.Background(), 1))
	require.Zero(t, aiStub.callCount())

	stored := repo.get(1)
	require.Equal(t, models.ValidationStatusFlagged, stored.Validation.Status)
	require.Equal(t, models.ValidationSourceStaticOnly, stored.Validation.Source)

	verdict := stored.Validation.Verdict.Data()
	require.False(t, verdict.IsLegitimate)
	require.True(t, verdict.IsHardcoded)
	require.Equal(t, 100, verdict.Confidence)
	require.GreaterOrEqual(t, stored.Analysis.SuspicionScore, 80)
	require.NotEmpty(t, stored.Analysis.Flags)

	// one flagged event per channel: session and instructor
	require.Len(t, bus.byType("submission-flagged"), 2)
}

func TestValidationAIPath(t *testing.T) {
	legit := `int main(){int n; cin>>n; int sum=0; for(int i=0;i<n;i++){int x; cin>>x; sum+=x;} cout<<sum; return 0;}`
	repo := newStubSubmissionRepo(passedSubmission(1, legit))
	aiStub := &stubAIValidator{verdict: &ai.Verdict{IsLegitimate: true, FollowsInstructions: true, Confidence: 90, ModelTag: "gpt-4o-mini"}}
	bus := &stubEventBus{}
	svc := newValidationService(repo, aiStub, bus)

	require.NoError(t, svc.Process(context.Background(), 1))
	require.Equal(t, 1, aiStub.callCount())

	stored := repo.get(1)
	require.Equal(t, models.ValidationStatusValidated, stored.Validation.Status)
	require.Equal(t, models.ValidationSourceAI, stored.Validation.Source)
	require.Equal(t, "gpt-4o-mini", stored.Validation.Verdict.Data().ModelTag)
	require.Empty(t, bus.byType("submission-flagged"))
}

func TestValidationAIFlaggedVerdictFusesFlags(t *testing.T) {
	legit := `int main(){int n; cin>>n; int sum=0; for(int i=0;i<n;i++){int x; cin>>x; sum+=x;} cout<<sum; return 0;}`
	repo := newStubSubmissionRepo(passedSubmission(1, legit))
	aiStub := &stubAIValidator{verdict: &ai.Verdict{IsLegitimate: false, IsHardcoded: true, Confidence: 90, Issues: []string{"prints constants"}}}
	bus := &stubEventBus{}
	svc := newValidationService(repo, aiStub, bus)

	require.NoError(t, svc.Process(context.Background(), 1))

	stored := repo.get(1)
	require.Equal(t, models.ValidationStatusFlagged, stored.Validation.Status)
	require.Equal(t, 90, stored.Analysis.SuspicionScore)

	var workaround *models.Flag
	for i, flag := range stored.Analysis.Flags {
		if flag.Type == "ai_detected_workaround" {
			workaround = &stored.Analysis.Flags[i]
		}
	}
	require.NotNil(t, workaround)
	require.Equal(t, models.SeverityHigh, workaround.Severity)
	require.Len(t, bus.byType("submission-flagged"), 2)
}

func TestValidationAIUnavailableLowStaticStaysPending(t *testing.T) {
	legit := `int main(){int n; cin>>n; int sum=0; for(int i=0;i<n;i++){int x; cin>>x; sum+=x;} cout<<sum; return 0;}`
	repo := newStubSubmissionRepo(passedSubmission(1, legit))
	aiStub := &stubAIValidator{err: ai.ErrCascadeExhausted}
	bus := &stubEventBus{}
	svc := newValidationService(repo, aiStub, bus)

	require.NoError(t, svc.Process(context.Background(), 1))

	stored := repo.get(1)
	require.Equal(t, models.ValidationStatusPending, stored.Validation.Status)
	require.Zero(t, repo.finalized)
	require.Empty(t, bus.byType("submission-flagged"))

	// the recovery scan can pick it up again
	repo.pendingIDs = []uint{1}
	ids, err := svc.ListRecoverable(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint{1}, ids)
}

func TestValidationAIUnavailableSuspiciousFallsBack(t *testing.T) {
	// partial hardcoded output plus missing iteration: score 35, no high flag
	source := "x = input()\nprint(\"the sum is 15\")"
	submission := passedSubmission(1, source)
	submission.Language = "python"
	repo := newStubSubmissionRepo(submission)
	aiStub := &stubAIValidator{err: ai.ErrCascadeExhausted}
	bus := &stubEventBus{}
	svc := newValidationService(repo, aiStub, bus)

	require.NoError(t, svc.Process(context.Background(), 1))
	require.Equal(t, 1, aiStub.callCount())

	stored := repo.get(1)
	require.Equal(t, models.ValidationStatusValidated, stored.Validation.Status)
	require.Equal(t, models.ValidationSourceStaticFallback, stored.Validation.Source)

	verdict := stored.Validation.Verdict.Data()
	require.False(t, verdict.IsLegitimate)
	require.Equal(t, 35, verdict.Confidence)
}

func TestValidationIdempotentForResolvedSubmission(t *testing.T) {
	submission := passedSubmission(1, "whatever")
	submission.Validation.Status = models.ValidationStatusValidated
	repo := newStubSubmissionRepo(submission)
	aiStub := &stubAIValidator{}
	svc := newValidationService(repo, aiStub, &stubEventBus{})

	require.NoError(t, svc.Process(context.Background(), 1))
	require.Zero(t, aiStub.callCount())
	require.Zero(t, repo.finalized)
	require.Zero(t, repo.skipped)
}

func TestValidationSkipsFailedSubmission(t *testing.T) {
	submission := passedSubmission(1, "whatever")
	submission.Status = models.SubmissionStatusFailed
	repo := newStubSubmissionRepo(submission)
	aiStub := &stubAIValidator{}
	svc := newValidationService(repo, aiStub, &stubEventBus{})

	require.NoError(t, svc.Process(context.Background(), 1))
	require.Zero(t, aiStub.callCount())
	require.Equal(t, models.ValidationStatusSkipped, repo.get(1).Validation.Status)
}

func TestValidationSkipsActivityWithoutTestCases(t *testing.T) {
	submission := passedSubmission(1, "whatever")
	submission.ActivityID = 2
	repo := newStubSubmissionRepo(submission)
	svc := newValidationService(repo, &stubAIValidator{}, &stubEventBus{})

	require.NoError(t, svc.Process(context.Background(), 1))
	require.Equal(t, models.ValidationStatusSkipped, repo.get(1).Validation.Status)
}

func TestValidationProcessUnknownSubmission(t *testing.T) {
	svc := newValidationService(newStubSubmissionRepo(), &stubAIValidator{}, &stubEventBus{})
	err := svc.Process(context.Background(), 404)
	require.ErrorIs(t, err, service.ErrSubmissionNotFound)
}

func TestForceRevalidateResetsStatus(t *testing.T) {
	submission := passedSubmission(1, "whatever")
	submission.Validation.Status = models.ValidationStatusFlagged
	submission.Validation.Source = models.ValidationSourceAI
	repo := newStubSubmissionRepo(submission)
	svc := newValidationService(repo, &stubAIValidator{}, &stubEventBus{})

	require.NoError(t, svc.ForceRevalidate(context.Background(), 1))
	stored := repo.get(1)
	require.Equal(t, models.ValidationStatusPending, stored.Validation.Status)
	require.Empty(t, stored.Validation.Source)
}

func TestForceRevalidateUnknownSubmission(t *testing.T) {
	svc := newValidationService(newStubSubmissionRepo(), &stubAIValidator{}, &stubEventBus{})
	err := svc.ForceRevalidate(context.Background(), 404)
	require.ErrorIs(t, err, service.ErrSubmissionNotFound)
}
