package service

import (
	"context"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/labguard/labguard-api/internal/analysis"
	"github.com/labguard/labguard-api/internal/dto"
	"github.com/labguard/labguard-api/internal/repository"
)

// PlagiarismService compares submissions pairwise and builds on-demand
// activity reports. Reports are transient; nothing is persisted.
type PlagiarismService interface {
	// Similarity scores two source texts with the layered comparator.
	Similarity(codeA, codeB, language string) analysis.Scores
	// PreciseSimilarity runs the character-level comparator on top of the
	// token scores, for instructor review of a single pair.
	PreciseSimilarity(codeA, codeB string) int
	// Report compares all passed submissions of an activity. A threshold of
	// zero or less falls back to the configured default.
	Report(ctx context.Context, activityID uint, threshold int) (dto.PlagiarismReport, error)
}

type plagiarismService struct {
	submissions      repository.SubmissionRepository
	defaultThreshold int
	tracer           trace.Tracer
	logger           zerolog.Logger
}

// NewPlagiarismService constructs the comparison service.
func NewPlagiarismService(submissionRepo repository.SubmissionRepository, defaultThreshold int, logger zerolog.Logger) PlagiarismService {
	if defaultThreshold <= 0 || defaultThreshold > 100 {
		defaultThreshold = 70
	}
	return &plagiarismService{
		submissions:      submissionRepo,
		defaultThreshold: defaultThreshold,
		tracer:           otel.Tracer("github.com/labguard/labguard-api/internal/service/plagiarism"),
		logger:           logger.With().Str("component", "plagiarism_service").Logger(),
	}
}

func (s *plagiarismService) Similarity(codeA, codeB, language string) analysis.Scores {
	return analysis.Similarity(codeA, codeB, language)
}

func (s *plagiarismService) PreciseSimilarity(codeA, codeB string) int {
	return analysis.Levenshtein(codeA, codeB)
}

func (s *plagiarismService) Report(parent context.Context, activityID uint, threshold int) (dto.PlagiarismReport, error) {
	ctx, span := s.tracer.Start(parent, "plagiarism.report", trace.WithAttributes(
		attribute.Int64("activity_id", int64(activityID)),
	))
	defer span.End()

	if threshold <= 0 || threshold > 100 {
		threshold = s.defaultThreshold
	}

	submissions, err := s.submissions.ListPassedByActivity(ctx, activityID)
	if err != nil {
		return dto.PlagiarismReport{}, err
	}

	report := dto.PlagiarismReport{
		ActivityID: activityID,
		Threshold:  threshold,
		Pairs:      []dto.SimilarityPair{},
		Clusters:   [][]uint{},
	}

	var (
		flaggedSum int
		parents    = make(map[uint]uint)
	)

	for i := 0; i < len(submissions); i++ {
		for j := i + 1; j < len(submissions); j++ {
			a, b := submissions[i], submissions[j]
			// A student is never compared against themselves.
			if a.StudentID == b.StudentID {
				continue
			}
			if a.ID > b.ID {
				a, b = b, a
			}

			report.Summary.ComparedPairs++
			scores := analysis.Similarity(a.Source, b.Source, a.Language)
			if scores.Overall > report.Summary.MaxSimilarity {
				report.Summary.MaxSimilarity = scores.Overall
			}
			if scores.Overall < threshold {
				continue
			}

			flaggedSum += scores.Overall
			report.Pairs = append(report.Pairs, dto.SimilarityPair{
				SubmissionA: a.ID,
				SubmissionB: b.ID,
				StudentA:    a.StudentID,
				StudentB:    b.StudentID,
				Overall:     scores.Overall,
				Jaccard:     scores.Jaccard,
				Fingerprint: scores.Fingerprint,
				Structural:  scores.Structural,
				ExactMatch:  scores.ExactMatch,
			})
			union(parents, a.ID, b.ID)
		}
	}

	report.Summary.TotalFlagged = len(report.Pairs)
	if report.Summary.TotalFlagged > 0 {
		report.Summary.AvgSimilarity = math.Round(float64(flaggedSum)/float64(report.Summary.TotalFlagged)*100) / 100
	}
	report.Clusters = clusters(parents)

	sort.Slice(report.Pairs, func(i, j int) bool {
		if report.Pairs[i].Overall != report.Pairs[j].Overall {
			return report.Pairs[i].Overall > report.Pairs[j].Overall
		}
		return report.Pairs[i].SubmissionA < report.Pairs[j].SubmissionA
	})

	s.logger.Debug().Uint("activity_id", activityID).
		Int("compared", report.Summary.ComparedPairs).
		Int("flagged", report.Summary.TotalFlagged).
		Msg("plagiarism report built")
	return report, nil
}

func find(parents map[uint]uint, id uint) uint {
	root, ok := parents[id]
	if !ok {
		parents[id] = id
		return id
	}
	if root == id {
		return id
	}
	resolved := find(parents, root)
	parents[id] = resolved
	return resolved
}

func union(parents map[uint]uint, a, b uint) {
	rootA, rootB := find(parents, a), find(parents, b)
	if rootA == rootB {
		return
	}
	if rootB < rootA {
		rootA, rootB = rootB, rootA
	}
	parents[rootB] = rootA
}

// clusters groups connected flagged submissions, each cluster and the cluster
// list sorted ascending for stable output.
func clusters(parents map[uint]uint) [][]uint {
	groups := make(map[uint][]uint)
	for id := range parents {
		root := find(parents, id)
		groups[root] = append(groups[root], id)
	}

	out := make([][]uint, 0, len(groups))
	for _, members := range groups {
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
