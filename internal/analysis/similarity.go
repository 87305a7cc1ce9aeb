package analysis

import (
	"hash/fnv"
	"math"
	"strings"
)

// Winnowing parameters: k-gram size and window size. Stable across runs
// because the underlying hash is FNV-1a.
const (
	fingerprintK      = 5
	fingerprintWindow = 4
)

// Weights of the combined similarity score. The structural weight is a tuning
// candidate; see DESIGN.md.
const (
	jaccardWeight     = 0.4
	fingerprintWeight = 0.4
	structuralWeight  = 0.2
)

var structuralKeywords = []string{
	"if", "else", "for", "while", "function", "def", "return", "class", "try", "catch",
}

// Scores carries the sub-metrics of one pairwise comparison, each in [0,100].
type Scores struct {
	Overall     int  `json:"overall"`
	Jaccard     int  `json:"jaccard"`
	Fingerprint int  `json:"fingerprint"`
	Structural  int  `json:"structural"`
	ExactMatch  bool `json:"exact_match"`
}

// Similarity compares two source texts. Identical empty inputs score 100;
// one-sided empty inputs score 0. Canonical-form equality short-circuits all
// sub-scores to 100.
func Similarity(codeA, codeB, language string) Scores {
	emptyA := strings.TrimSpace(codeA) == ""
	emptyB := strings.TrimSpace(codeB) == ""
	if emptyA && emptyB {
		return Scores{Overall: 100, Jaccard: 100, Fingerprint: 100, Structural: 100, ExactMatch: true}
	}
	if emptyA || emptyB {
		return Scores{}
	}

	if Normalize(codeA) == Normalize(codeB) {
		return Scores{Overall: 100, Jaccard: 100, Fingerprint: 100, Structural: 100, ExactMatch: true}
	}

	tokensA := Tokenize(codeA, language)
	tokensB := Tokenize(codeB, language)

	jaccard := jaccardSimilarity(tokenSet(tokensA), tokenSet(tokensB))
	fingerprint := jaccardSimilarity(fingerprintSet(tokensA), fingerprintSet(tokensB))
	structural := cosineSimilarity(structuralVector(tokensA), structuralVector(tokensB))

	overall := int(math.Round(100 * (jaccardWeight*jaccard + fingerprintWeight*fingerprint + structuralWeight*structural)))

	return Scores{
		Overall:     overall,
		Jaccard:     int(math.Round(100 * jaccard)),
		Fingerprint: int(math.Round(100 * fingerprint)),
		Structural:  int(math.Round(100 * structural)),
	}
}

func tokenSet(tokens []string) map[uint32]struct{} {
	set := make(map[uint32]struct{}, len(tokens))
	for _, token := range tokens {
		set[hash32(token)] = struct{}{}
	}
	return set
}

// fingerprintSet applies winnowing: roll a 32-bit hash over k-grams of the
// token stream and keep the minimum hash of each sliding window. Hash
// collisions are tolerated.
func fingerprintSet(tokens []string) map[uint32]struct{} {
	set := make(map[uint32]struct{})
	if len(tokens) == 0 {
		return set
	}

	if len(tokens) < fingerprintK {
		set[hash32(strings.Join(tokens, "\x00"))] = struct{}{}
		return set
	}

	hashes := make([]uint32, 0, len(tokens)-fingerprintK+1)
	for i := 0; i+fingerprintK <= len(tokens); i++ {
		hashes = append(hashes, hash32(strings.Join(tokens[i:i+fingerprintK], "\x00")))
	}

	if len(hashes) <= fingerprintWindow {
		set[minHash(hashes)] = struct{}{}
		return set
	}

	for i := 0; i+fingerprintWindow <= len(hashes); i++ {
		set[minHash(hashes[i:i+fingerprintWindow])] = struct{}{}
	}
	return set
}

func minHash(hashes []uint32) uint32 {
	min := hashes[0]
	for _, h := range hashes[1:] {
		if h < min {
			min = h
		}
	}
	return min
}

func hash32(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func jaccardSimilarity(a, b map[uint32]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for item := range a {
		if _, ok := b[item]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

func structuralVector(tokens []string) []float64 {
	vector := make([]float64, len(structuralKeywords))
	for _, token := range tokens {
		lowered := strings.ToLower(token)
		for i, keyword := range structuralKeywords {
			if lowered == keyword {
				vector[i]++
				break
			}
		}
	}
	return vector
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 && normB == 0 {
		return 1
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// levenshteinSliceLimit bounds the precise comparison; longer inputs are
// compared on a head+tail slice as a documented approximation.
const (
	levenshteinMaxLen   = 5000
	levenshteinSliceLen = 2000
)

// Levenshtein returns a 0-100 similarity based on edit distance. It is the
// precise pairwise check and is not part of the combined score.
func Levenshtein(codeA, codeB string) int {
	a := []rune(codeA)
	b := []rune(codeB)
	if len(a) > levenshteinMaxLen || len(b) > levenshteinMaxLen {
		a = headTail(a)
		b = headTail(b)
	}

	if len(a) == 0 && len(b) == 0 {
		return 100
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	distance := editDistance(a, b)
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return int(math.Round(100 * (1 - float64(distance)/float64(longest))))
}

func headTail(runes []rune) []rune {
	if len(runes) <= 2*levenshteinSliceLen {
		return runes
	}
	sliced := make([]rune, 0, 2*levenshteinSliceLen)
	sliced = append(sliced, runes[:levenshteinSliceLen]...)
	sliced = append(sliced, runes[len(runes)-levenshteinSliceLen:]...)
	return sliced
}

func editDistance(a, b []rune) int {
	previous := make([]int, len(b)+1)
	current := make([]int, len(b)+1)

	for j := 0; j <= len(b); j++ {
		previous[j] = j
	}

	for i := 1; i <= len(a); i++ {
		current[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			current[j] = minInt(previous[j]+1, current[j-1]+1, previous[j-1]+cost)
		}
		previous, current = current, previous
	}

	return previous[len(b)]
}

func minInt(values ...int) int {
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}
