package analysis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/labguard/labguard-api/internal/models"
)

// Flag types emitted by the static analyzer.
const (
	FlagInputValueCheck       = "input_value_check"
	FlagConditionalWorkaround = "conditional_output_workaround"
	FlagHardcodedOutput       = "hardcoded_output"
	FlagAllOutputsHardcoded   = "all_outputs_hardcoded"
	FlagNoInputUsage          = "no_input_usage"
	FlagMissingIteration      = "missing_iteration"
	FlagTooShort              = "too_short"
)

// SuspicionThreshold marks a static result as suspicious on its own.
const SuspicionThreshold = 30

// StaticResult is the outcome of the static workaround analysis.
type StaticResult struct {
	Flags          []models.Flag `json:"flags"`
	SuspicionScore int           `json:"suspicion_score"`
	IsSuspicious   bool          `json:"is_suspicious"`
}

// Analyze runs the workaround detectors over a submission's source and the
// activity's test cases. Detector severities and score increments are fixed
// contract values; the score is the capped sum.
func Analyze(code, language string, testCases []models.TestCase, activityKind string) StaticResult {
	profile := ProfileFor(language)
	stripped := StripComments(code, profile)

	result := StaticResult{}
	score := 0

	add := func(flagType, severity, description string, increment int) {
		result.Flags = models.UpsertFlag(result.Flags, models.Flag{
			Type:        flagType,
			Severity:    severity,
			Description: description,
		})
		score += increment
	}

	if literal, found := detectInputValueSwitch(stripped, profile, testCases); found {
		add(FlagInputValueCheck, models.SeverityCritical,
			fmt.Sprintf("code branches on test input value %s", literal), 50)
	}

	switch conditionals := countConditionalPrints(stripped, profile); {
	case conditionals >= 2:
		add(FlagConditionalWorkaround, models.SeverityCritical,
			fmt.Sprintf("%d conditional print statements suggest per-test output switching", conditionals), 60)
	case conditionals == 1:
		add(FlagConditionalWorkaround, models.SeverityHigh,
			"conditional print statement suggests output switching", 40)
	}

	exact, partial, matched := matchPrintLiterals(stripped, profile, testCases)
	if exact > 0 {
		add(FlagHardcodedOutput, models.SeverityHigh,
			fmt.Sprintf("%d print literal(s) exactly match expected output", exact), 40)
	} else if partial > 0 {
		add(FlagHardcodedOutput, models.SeverityMedium,
			fmt.Sprintf("%d print literal(s) partially match expected output", partial), 20)
	}
	if len(testCases) > 1 && matched >= len(testCases) {
		add(FlagAllOutputsHardcoded, models.SeverityHigh,
			"print literals cover every test case output", 50)
	}

	if hasNonEmptyInput(testCases) && !profile.InputRead.MatchString(stripped) {
		add(FlagNoInputUsage, models.SeverityHigh,
			"test cases supply input but the code never reads it", 30)
	}

	if needsIteration(testCases) && !profile.Loop.MatchString(stripped) {
		add(FlagMissingIteration, models.SeverityMedium,
			"test data implies iteration but the code has no loop", 15)
	}

	if len(testCases) > 2 && countCodeLines(stripped) < 5 {
		add(FlagTooShort, models.SeverityLow,
			"implementation is suspiciously short for the number of test cases", 10)
	}

	if score > 100 {
		score = 100
	}
	result.SuspicionScore = score
	result.IsSuspicious = score >= SuspicionThreshold

	return result
}

func detectInputValueSwitch(code string, profile LanguageProfile, testCases []models.TestCase) (string, bool) {
	inputTokens := make(map[string]struct{})
	for _, tc := range testCases {
		for _, token := range strings.Fields(tc.Input) {
			inputTokens[token] = struct{}{}
		}
	}
	if len(inputTokens) == 0 {
		return "", false
	}

	for _, pattern := range profile.EqualityLiterals {
		for _, match := range pattern.FindAllStringSubmatch(code, -1) {
			literal := unquoteLiteral(match[1])
			if literal == "" {
				continue
			}
			if _, ok := inputTokens[literal]; ok {
				return literal, true
			}
		}
	}

	return "", false
}

func countConditionalPrints(code string, profile LanguageProfile) int {
	return len(profile.ConditionalPrint.FindAllString(code, -1))
}

// matchPrintLiterals compares print-call string literals against expected
// outputs. Comparison is case-insensitive with collapsed whitespace; partial
// matches require literals longer than 2 characters.
func matchPrintLiterals(code string, profile LanguageProfile, testCases []models.TestCase) (exact, partial, matchedLiterals int) {
	literals := extractPrintLiterals(code, profile)
	if len(literals) == 0 {
		return 0, 0, 0
	}

	for _, literal := range literals {
		normLiteral := normalizeForMatch(literal)
		if normLiteral == "" {
			continue
		}

		literalMatched := false
		for _, tc := range testCases {
			normExpected := normalizeForMatch(tc.ExpectedOutput)
			if normExpected == "" {
				continue
			}
			if normLiteral == normExpected {
				exact++
				literalMatched = true
				break
			}
			if len(normLiteral) > 2 &&
				(strings.Contains(normExpected, normLiteral) || strings.Contains(normLiteral, normExpected)) {
				partial++
				literalMatched = true
				break
			}
		}
		if literalMatched {
			matchedLiterals++
		}
	}

	return exact, partial, matchedLiterals
}

func extractPrintLiterals(code string, profile LanguageProfile) []string {
	var literals []string
	for _, match := range profile.PrintLiterals.FindAllStringSubmatch(code, -1) {
		for i := len(match) - 1; i >= 1; i-- {
			if match[i] != "" {
				literals = append(literals, match[i])
				break
			}
		}
	}
	return literals
}

func hasNonEmptyInput(testCases []models.TestCase) bool {
	for _, tc := range testCases {
		if strings.TrimSpace(tc.Input) != "" {
			return true
		}
	}
	return false
}

var numericToken = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)

// needsIteration holds when any test case's data spans more than 3 lines or
// carries at least 3 numeric tokens. Inputs count as well as outputs: a
// one-line expected sum over a multi-number input still implies a loop.
func needsIteration(testCases []models.TestCase) bool {
	for _, tc := range testCases {
		for _, text := range []string{tc.ExpectedOutput, tc.Input} {
			if strings.Count(strings.TrimSpace(text), "\n") > 3 {
				return true
			}
			numbers := 0
			for _, field := range strings.Fields(text) {
				if numericToken.MatchString(field) {
					numbers++
				}
			}
			if numbers >= 3 {
				return true
			}
		}
	}
	return false
}

func countCodeLines(stripped string) int {
	count := 0
	for _, line := range strings.Split(stripped, "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count
}

func unquoteLiteral(literal string) string {
	literal = strings.TrimSpace(literal)
	if len(literal) >= 2 {
		first := literal[0]
		if (first == '"' || first == '\'') && literal[len(literal)-1] == first {
			return literal[1 : len(literal)-1]
		}
	}
	return literal
}

var spaceRun = regexp.MustCompile(`\s+`)

func normalizeForMatch(text string) string {
	return strings.ToLower(strings.TrimSpace(spaceRun.ReplaceAllString(text, " ")))
}
