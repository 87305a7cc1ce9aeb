package analysis_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/labguard/labguard-api/internal/analysis"
)

const solutionA = `int main(){
	int n; cin >> n;
	int total = 0;
	for (int i = 0; i < n; i++) { int value; cin >> value; total += value; }
	cout << total;
	return 0;
}`

// solutionA with every user identifier renamed.
const solutionRenamed = `int main(){
	int count; cin >> count;
	int acc = 0;
	for (int idx = 0; idx < count; idx++) { int item; cin >> item; acc += item; }
	cout << acc;
	return 0;
}`

const solutionDifferent = `def solve():
    data = sys.stdin.read().split()
    print(sum(int(x) for x in data[1:]))

solve()`

func TestSimilarityExactMatch(t *testing.T) {
	variant := "INT MAIN(){\n\tint n; cin >> n;\n\tint total = 0; // read count\n" +
		"\tfor (int i = 0; i < n; i++) { int value; cin >> value; total += value; }\n" +
		"\tcout << total;\n\treturn 0;\n}"

	scores := analysis.Similarity(solutionA, variant, "cpp")
	require.True(t, scores.ExactMatch)
	require.Equal(t, 100, scores.Overall)
	require.Equal(t, 100, scores.Jaccard)
	require.Equal(t, 100, scores.Fingerprint)
	require.Equal(t, 100, scores.Structural)
}

func TestSimilarityRenamedVariables(t *testing.T) {
	scores := analysis.Similarity(solutionA, solutionRenamed, "cpp")
	require.False(t, scores.ExactMatch)
	require.Equal(t, 100, scores.Jaccard)
	require.Equal(t, 100, scores.Fingerprint)
	require.GreaterOrEqual(t, scores.Overall, 92)
}

func TestSimilarityReflexivity(t *testing.T) {
	scores := analysis.Similarity(solutionA, solutionA, "cpp")
	require.True(t, scores.ExactMatch)
	require.Equal(t, 100, scores.Overall)
}

func TestSimilaritySymmetry(t *testing.T) {
	ab := analysis.Similarity(solutionA, solutionDifferent, "cpp")
	ba := analysis.Similarity(solutionDifferent, solutionA, "cpp")
	require.Equal(t, ab.Overall, ba.Overall)
	require.Equal(t, ab.Jaccard, ba.Jaccard)
	require.Equal(t, ab.Fingerprint, ba.Fingerprint)
}

func TestSimilarityUnrelatedCodeScoresLow(t *testing.T) {
	scores := analysis.Similarity(solutionA, solutionDifferent, "cpp")
	require.False(t, scores.ExactMatch)
	require.Less(t, scores.Overall, 70)
}

func TestSimilarityBothEmpty(t *testing.T) {
	scores := analysis.Similarity("", "   \n\t", "cpp")
	require.True(t, scores.ExactMatch)
	require.Equal(t, 100, scores.Overall)
}

func TestSimilarityOneEmpty(t *testing.T) {
	scores := analysis.Similarity(solutionA, "", "cpp")
	require.False(t, scores.ExactMatch)
	require.Zero(t, scores.Overall)
	require.Zero(t, scores.Jaccard)
}

func TestLevenshteinIdentical(t *testing.T) {
	require.Equal(t, 100, analysis.Levenshtein("abcdef", "abcdef"))
}

func TestLevenshteinEmptySides(t *testing.T) {
	require.Equal(t, 100, analysis.Levenshtein("", ""))
	require.Equal(t, 0, analysis.Levenshtein("abc", ""))
	require.Equal(t, 0, analysis.Levenshtein("", "abc"))
}

func TestLevenshteinSingleEdit(t *testing.T) {
	// one substitution over four characters
	require.Equal(t, 75, analysis.Levenshtein("abcd", "abxd"))
}

func TestLevenshteinLongInputsUseHeadTailSlice(t *testing.T) {
	head := strings.Repeat("a", 3000)
	tail := strings.Repeat("b", 3000)
	a := head + strings.Repeat("x", 2000) + tail
	b := head + strings.Repeat("y", 2000) + tail

	// middles differ but fall outside the compared slice
	require.Equal(t, 100, analysis.Levenshtein(a, b))
}
