package dto

// SimilarityRequest compares two source texts directly.
type SimilarityRequest struct {
	CodeA    string `json:"code_a" validate:"required"`
	CodeB    string `json:"code_b" validate:"required"`
	Language string `json:"language"`
	Precise  bool   `json:"precise"`
}

// SimilarityResponse carries the pairwise sub-scores.
type SimilarityResponse struct {
	Overall     int  `json:"overall"`
	Jaccard     int  `json:"jaccard"`
	Fingerprint int  `json:"fingerprint"`
	Structural  int  `json:"structural"`
	ExactMatch  bool `json:"exact_match"`
	Levenshtein *int `json:"levenshtein,omitempty"`
}

// SimilarityPair is one flagged pair in a plagiarism report. Pair ordering is
// canonicalized by ascending submission id.
type SimilarityPair struct {
	SubmissionA uint `json:"submission_a"`
	SubmissionB uint `json:"submission_b"`
	StudentA    uint `json:"student_a"`
	StudentB    uint `json:"student_b"`
	Overall     int  `json:"overall"`
	Jaccard     int  `json:"jaccard"`
	Fingerprint int  `json:"fingerprint"`
	Structural  int  `json:"structural"`
	ExactMatch  bool `json:"exact_match"`
}

// PlagiarismSummary aggregates a report.
type PlagiarismSummary struct {
	ComparedPairs int     `json:"compared_pairs"`
	TotalFlagged  int     `json:"total_flagged"`
	AvgSimilarity float64 `json:"avg_similarity"`
	MaxSimilarity int     `json:"max_similarity"`
}

// PlagiarismReport is the transient, on-demand activity report.
type PlagiarismReport struct {
	ActivityID uint              `json:"activity_id"`
	Threshold  int               `json:"threshold"`
	Pairs      []SimilarityPair  `json:"pairs"`
	Clusters   [][]uint          `json:"clusters"`
	Summary    PlagiarismSummary `json:"summary"`
}
