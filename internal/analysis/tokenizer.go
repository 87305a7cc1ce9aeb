package analysis

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var twoCharOperators = map[string]struct{}{
	"==": {}, "!=": {}, "<=": {}, ">=": {}, "&&": {}, "||": {},
	"<<": {}, ">>": {}, "++": {}, "--": {}, "+=": {}, "-=": {},
	"*=": {}, "/=": {}, "%=": {}, "->": {}, "::": {}, "=>": {},
	"**": {}, "//": {},
}

// Tokenize strips comments and produces a normalized token stream for the
// given language. Identifiers outside the reserved-word allow-list are
// rewritten to positional placeholders V0, V1, … in first-seen order; string
// literals are opaque and kept verbatim. Two equivalent inputs always yield
// identical streams.
func Tokenize(code, language string) []string {
	src := []rune(StripComments(code, ProfileFor(language)))

	var tokens []string
	rename := make(map[string]string)

	i := 0
	for i < len(src) {
		ch := src[i]

		switch {
		case unicode.IsSpace(ch):
			i++

		case ch == '"' || ch == '\'' || ch == '`':
			j := i + 1
			for j < len(src) {
				if src[j] == '\\' {
					j += 2
					continue
				}
				if src[j] == ch {
					j++
					break
				}
				j++
			}
			if j > len(src) {
				j = len(src)
			}
			tokens = append(tokens, string(src[i:j]))
			i = j

		case isIdentStart(ch):
			j := i
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			word := string(src[i:j])
			if IsReserved(word) {
				tokens = append(tokens, word)
			} else {
				placeholder, seen := rename[word]
				if !seen {
					placeholder = fmt.Sprintf("V%d", len(rename))
					rename[word] = placeholder
				}
				tokens = append(tokens, placeholder)
			}
			i = j

		case unicode.IsDigit(ch):
			j := i
			for j < len(src) && (unicode.IsDigit(src[j]) || src[j] == '.' || unicode.IsLetter(src[j])) {
				j++
			}
			tokens = append(tokens, string(src[i:j]))
			i = j

		default:
			if i+1 < len(src) {
				pair := string(src[i : i+2])
				if _, ok := twoCharOperators[pair]; ok {
					tokens = append(tokens, pair)
					i += 2
					continue
				}
			}
			tokens = append(tokens, string(ch))
			i++
		}
	}

	return tokens
}

var collapseWhitespace = regexp.MustCompile(`\s+`)

// Normalize produces the canonical form of a source text used for
// exact-duplicate detection: comments stripped, lowercased, all whitespace
// removed.
func Normalize(code string) string {
	stripped := StripComments(code, canonicalProfile)
	return collapseWhitespace.ReplaceAllString(strings.ToLower(stripped), "")
}

// canonicalProfile strips every comment family we know about; Normalize is
// language-agnostic by design.
var canonicalProfile = LanguageProfile{
	Name:          "canonical",
	LineComments:  []string{"//", "#"},
	BlockComments: [][2]string{{"/*", "*/"}},
	TripleQuotes:  true,
}

// StripComments removes the profile's comment families from code. String
// literal contents are never treated as comments, and unterminated comments
// consume to end of input. Removed spans are replaced by a single space to
// preserve token boundaries.
func StripComments(code string, profile LanguageProfile) string {
	src := []rune(code)
	var out strings.Builder
	out.Grow(len(src))

	i := 0
	for i < len(src) {
		ch := src[i]

		if profile.TripleQuotes && hasPrefixAt(src, i, `"""`) {
			end := indexFrom(src, i+3, `"""`)
			if end < 0 {
				break
			}
			out.WriteByte(' ')
			i = end + 3
			continue
		}

		if ch == '"' || ch == '\'' || ch == '`' {
			j := i + 1
			out.WriteRune(ch)
			for j < len(src) {
				if src[j] == '\\' && j+1 < len(src) {
					out.WriteRune(src[j])
					out.WriteRune(src[j+1])
					j += 2
					continue
				}
				out.WriteRune(src[j])
				if src[j] == ch {
					j++
					break
				}
				j++
			}
			i = j
			continue
		}

		if marker, ok := matchAny(src, i, profile.LineComments); ok {
			i += len(marker)
			for i < len(src) && src[i] != '\n' {
				i++
			}
			out.WriteByte(' ')
			continue
		}

		if block, ok := matchBlockStart(src, i, profile.BlockComments); ok {
			end := indexFrom(src, i+len(block[0]), block[1])
			if end < 0 {
				break
			}
			out.WriteByte(' ')
			i = end + len(block[1])
			continue
		}

		out.WriteRune(ch)
		i++
	}

	return out.String()
}

func isIdentStart(ch rune) bool {
	return unicode.IsLetter(ch) || ch == '_'
}

func isIdentPart(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

func hasPrefixAt(src []rune, offset int, prefix string) bool {
	runes := []rune(prefix)
	if offset+len(runes) > len(src) {
		return false
	}
	for k, r := range runes {
		if src[offset+k] != r {
			return false
		}
	}
	return true
}

func indexFrom(src []rune, offset int, needle string) int {
	for k := offset; k+len([]rune(needle)) <= len(src); k++ {
		if hasPrefixAt(src, k, needle) {
			return k
		}
	}
	return -1
}

func matchAny(src []rune, offset int, markers []string) (string, bool) {
	for _, marker := range markers {
		if hasPrefixAt(src, offset, marker) {
			return marker, true
		}
	}
	return "", false
}

func matchBlockStart(src []rune, offset int, blocks [][2]string) ([2]string, bool) {
	for _, block := range blocks {
		if hasPrefixAt(src, offset, block[0]) {
			return block, true
		}
	}
	return [2]string{}, false
}
