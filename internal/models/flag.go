package models

// Flag severity levels, ordered from least to most serious.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Flag is a typed, severity-tagged finding attached to a submission or proctoring session.
type Flag struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

var severityRank = map[string]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// SeverityRank returns the numeric rank of a severity, 0 for unknown values.
func SeverityRank(severity string) int {
	return severityRank[severity]
}

// UpsertFlag adds flag to the set keyed by type. An existing flag of the same
// type is upgraded in place when the new severity outranks it; it is never
// duplicated or downgraded.
func UpsertFlag(flags []Flag, flag Flag) []Flag {
	for i, existing := range flags {
		if existing.Type != flag.Type {
			continue
		}
		if SeverityRank(flag.Severity) > SeverityRank(existing.Severity) {
			flags[i].Severity = flag.Severity
			flags[i].Description = flag.Description
		}
		return flags
	}
	return append(flags, flag)
}

// HasSeverityAtLeast reports whether any flag reaches the given severity.
func HasSeverityAtLeast(flags []Flag, severity string) bool {
	min := SeverityRank(severity)
	for _, flag := range flags {
		if SeverityRank(flag.Severity) >= min {
			return true
		}
	}
	return false
}

// FlagDescriptions collects the descriptions of all flags, in order.
func FlagDescriptions(flags []Flag) []string {
	descriptions := make([]string, 0, len(flags))
	for _, flag := range flags {
		descriptions = append(descriptions, flag.Description)
	}
	return descriptions
}
