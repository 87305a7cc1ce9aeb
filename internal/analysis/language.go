package analysis

import (
	"regexp"
	"strings"
)

// LanguageProfile bundles the regular-expression families used by the static
// analyzer and tokenizer for one language. New languages add a profile here
// instead of branching inside the detectors.
type LanguageProfile struct {
	Name          string
	LineComments  []string
	BlockComments [][2]string
	TripleQuotes  bool

	// PrintLiterals captures string literals passed to print calls; the
	// literal body is the last non-empty capture group.
	PrintLiterals *regexp.Regexp
	// ConditionalPrint matches an if-statement whose body prints directly.
	ConditionalPrint *regexp.Regexp
	// EqualityLiterals captures literals compared against a variable via
	// ==, case labels, or ternaries.
	EqualityLiterals []*regexp.Regexp
	Loop             *regexp.Regexp
	InputRead        *regexp.Regexp
}

var (
	cppProfile = LanguageProfile{
		Name:          "cpp",
		LineComments:  []string{"//"},
		BlockComments: [][2]string{{"/*", "*/"}},
		PrintLiterals: regexp.MustCompile(`(?:cout\s*<<|printf\s*\(|puts\s*\()\s*"((?:[^"\\]|\\.)*)"`),
		ConditionalPrint: regexp.MustCompile(
			`if\s*\([^)]*\)\s*\{?[^\n{}]*?(?:cout\s*<<|printf\s*\(|puts\s*\()`),
		EqualityLiterals: []*regexp.Regexp{
			regexp.MustCompile(`==\s*("(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)'|-?\d+(?:\.\d+)?)`),
			regexp.MustCompile(`case\s+("(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)'|-?\d+)\s*:`),
		},
		Loop:      regexp.MustCompile(`\b(?:for|while|do)\s*[({]`),
		InputRead: regexp.MustCompile(`\bcin\s*>>|\bgetline\s*\(|\bscanf\s*\(|\bgets\s*\(|\bfgets\s*\(`),
	}

	javaProfile = LanguageProfile{
		Name:          "java",
		LineComments:  []string{"//"},
		BlockComments: [][2]string{{"/*", "*/"}},
		PrintLiterals: regexp.MustCompile(`System\s*\.\s*out\s*\.\s*print(?:ln|f)?\s*\(\s*"((?:[^"\\]|\\.)*)"`),
		ConditionalPrint: regexp.MustCompile(
			`if\s*\([^)]*\)\s*\{?[^\n{}]*?System\s*\.\s*out\s*\.\s*print`),
		EqualityLiterals: []*regexp.Regexp{
			regexp.MustCompile(`==\s*("(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)'|-?\d+(?:\.\d+)?)`),
			regexp.MustCompile(`\.equals\s*\(\s*("(?:[^"\\]|\\.)*")\s*\)`),
			regexp.MustCompile(`case\s+("(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)'|-?\d+)\s*:`),
		},
		Loop:      regexp.MustCompile(`\b(?:for|while|do)\s*[({]`),
		InputRead: regexp.MustCompile(`\bScanner\b|System\s*\.\s*in\b|BufferedReader\b|readLine\s*\(`),
	}

	pythonProfile = LanguageProfile{
		Name:          "python",
		LineComments:  []string{"#"},
		TripleQuotes:  true,
		PrintLiterals: regexp.MustCompile(`print\s*\(\s*(?:f?)(?:"((?:[^"\\]|\\.)*)"|'((?:[^'\\]|\\.)*)')`),
		ConditionalPrint: regexp.MustCompile(
			`if\s+[^\n:]+:\s*\n?\s*print\s*\(|if\s+[^\n:]+:\s*print\s*\(`),
		EqualityLiterals: []*regexp.Regexp{
			regexp.MustCompile(`==\s*("(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|-?\d+(?:\.\d+)?)`),
		},
		Loop:      regexp.MustCompile(`\bfor\s+\w+\s+in\b|\bwhile\b`),
		InputRead: regexp.MustCompile(`\binput\s*\(|sys\s*\.\s*stdin\b|\bfileinput\b`),
	}

	javascriptProfile = LanguageProfile{
		Name:          "javascript",
		LineComments:  []string{"//"},
		BlockComments: [][2]string{{"/*", "*/"}},
		PrintLiterals: regexp.MustCompile("(?:console\\s*\\.\\s*log|process\\s*\\.\\s*stdout\\s*\\.\\s*write)\\s*\\(\\s*(?:\"((?:[^\"\\\\]|\\\\.)*)\"|'((?:[^'\\\\]|\\\\.)*)'|`((?:[^`\\\\]|\\\\.)*)`)"),
		ConditionalPrint: regexp.MustCompile(
			`if\s*\([^)]*\)\s*\{?[^\n{}]*?(?:console\s*\.\s*log|process\s*\.\s*stdout\s*\.\s*write)`),
		EqualityLiterals: []*regexp.Regexp{
			regexp.MustCompile(`===?\s*("(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|-?\d+(?:\.\d+)?)`),
			regexp.MustCompile(`case\s+("(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|-?\d+)\s*:`),
		},
		Loop:      regexp.MustCompile(`\b(?:for|while|do)\s*[({]`),
		InputRead: regexp.MustCompile(`\breadline\b|process\s*\.\s*stdin\b|\bprompt\s*\(`),
	}

	profiles = map[string]LanguageProfile{
		"cpp":        cppProfile,
		"c++":        cppProfile,
		"c":          cppProfile,
		"java":       javaProfile,
		"python":     pythonProfile,
		"py":         pythonProfile,
		"javascript": javascriptProfile,
		"js":         javascriptProfile,
		"typescript": javascriptProfile,
	}
)

// ProfileFor resolves the language profile for a language tag. Unknown
// languages fall back to the C++ family; this is documented behavior, never
// an error.
func ProfileFor(language string) LanguageProfile {
	if profile, ok := profiles[strings.ToLower(strings.TrimSpace(language))]; ok {
		return profile
	}
	return cppProfile
}

// reservedWords are preserved verbatim by the tokenizer; everything else is
// rewritten to positional placeholders.
var reservedWords = map[string]struct{}{
	// control flow
	"if": {}, "else": {}, "elif": {}, "for": {}, "while": {}, "do": {},
	"switch": {}, "case": {}, "default": {}, "break": {}, "continue": {},
	"return": {}, "try": {}, "catch": {}, "except": {}, "finally": {},
	"throw": {}, "goto": {}, "in": {}, "of": {}, "range": {},
	// declarations
	"def": {}, "function": {}, "class": {}, "struct": {}, "enum": {},
	"var": {}, "let": {}, "const": {}, "static": {}, "public": {},
	"private": {}, "protected": {}, "void": {}, "new": {}, "delete": {},
	"import": {}, "include": {}, "using": {}, "namespace": {}, "package": {},
	"lambda": {}, "pass": {}, "yield": {}, "async": {}, "await": {},
	// primitive types
	"int": {}, "long": {}, "short": {}, "float": {}, "double": {},
	"char": {}, "bool": {}, "boolean": {}, "string": {}, "str": {},
	"auto": {}, "unsigned": {}, "signed": {}, "size_t": {},
	// literals
	"true": {}, "false": {}, "null": {}, "nullptr": {}, "none": {},
	"nil": {}, "undefined": {},
	// common I/O and library names
	"main": {}, "std": {}, "cin": {}, "cout": {}, "cerr": {}, "endl": {},
	"printf": {}, "scanf": {}, "puts": {}, "gets": {}, "getline": {},
	"print": {}, "input": {}, "len": {}, "sys": {}, "stdin": {}, "stdout": {},
	"system": {}, "out": {}, "println": {}, "scanner": {}, "console": {},
	"log": {}, "process": {}, "readline": {}, "require": {},
	"vector": {}, "map": {}, "set": {}, "list": {}, "dict": {}, "array": {},
	"math": {}, "abs": {}, "min": {}, "max": {}, "sort": {}, "sorted": {},
	"append": {}, "push": {}, "pop": {}, "split": {}, "join": {}, "sum": {},
}

// IsReserved reports whether an identifier is on the tokenizer allow-list.
func IsReserved(identifier string) bool {
	_, ok := reservedWords[strings.ToLower(identifier)]
	return ok
}
