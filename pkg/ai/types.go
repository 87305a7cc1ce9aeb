package ai

import (
	"context"
	"errors"
)

// ErrCascadeExhausted signals that every configured model failed; callers
// treat it as "AI unavailable" and fall back to static analysis.
var ErrCascadeExhausted = errors.New("all validation models exhausted")

// TestCaseSummary is the slice of a test case shared with the model.
type TestCaseSummary struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

// ValidationInput contains the artefacts needed to judge a submission.
type ValidationInput struct {
	ActivityTitle       string
	ActivityDescription string
	Language            string
	Source              string
	TestCases           []TestCaseSummary
}

// Verdict is the structured decision returned by the validator.
type Verdict struct {
	IsLegitimate        bool     `json:"is_legitimate"`
	FollowsInstructions bool     `json:"follows_instructions"`
	IsHardcoded         bool     `json:"is_hardcoded"`
	Confidence          int      `json:"confidence"`
	Issues              []string `json:"issues,omitempty"`
	Explanation         string   `json:"explanation,omitempty"`
	ModelTag            string   `json:"model_tag"`
	FallbackLevel       int      `json:"fallback_level"`
	LatencyMs           int64    `json:"latency_ms"`
}

// Validator describes an AI model cascade capable of judging submissions.
type Validator interface {
	Validate(ctx context.Context, input ValidationInput) (*Verdict, error)
}
