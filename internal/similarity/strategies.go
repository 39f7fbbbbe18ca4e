package similarity

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// The strategies below expect already-normalized input and return [0,1].

// Ratio is the edit-distance ratio of two strings.
func Ratio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// PartialRatio is the best Ratio between the shorter string and every
// equal-length window of the longer one.
func PartialRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	if len(ra) == len(rb) {
		return Ratio(a, b)
	}
	short, long := ra, rb
	if len(short) > len(long) {
		short, long = long, short
	}
	s := string(short)
	best := 0.0
	for i := 0; i+len(short) <= len(long); i++ {
		r := Ratio(s, string(long[i:i+len(short)]))
		if r > best {
			best = r
			if best == 1 {
				break
			}
		}
	}
	return best
}

// TokenSortRatio compares the strings with their words sorted.
func TokenSortRatio(a, b string) float64 {
	return Ratio(sortedTokens(strings.Fields(a)), sortedTokens(strings.Fields(b)))
}

// TokenSetRatio compares the shared words against each side's extra words,
// so a string whose words are a subset of the other's scores 1.
func TokenSetRatio(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var common, onlyA, onlyB []string
	for w := range ta {
		if tb[w] {
			common = append(common, w)
		} else {
			onlyA = append(onlyA, w)
		}
	}
	for w := range tb {
		if !ta[w] {
			onlyB = append(onlyB, w)
		}
	}

	t0 := sortedTokens(common)
	t1 := strings.TrimSpace(t0 + " " + sortedTokens(onlyA))
	t2 := strings.TrimSpace(t0 + " " + sortedTokens(onlyB))

	best := Ratio(t1, t2)
	if t0 != "" {
		best = max(best, Ratio(t0, t1), Ratio(t0, t2))
	}
	return best
}

// Best returns the highest of the four strategies on normalized copies of a and b.
func Best(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	scores := strategyScores(na, nb)
	return scores[0]
}

// strategyScores runs all strategies and returns the scores sorted descending.
func strategyScores(a, b string) [4]float64 {
	s := [4]float64{
		TokenSortRatio(a, b),
		TokenSetRatio(a, b),
		PartialRatio(a, b),
		Ratio(a, b),
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(s[:])))
	return s
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}

func sortedTokens(words []string) string {
	cp := append([]string(nil), words...)
	sort.Strings(cp)
	return strings.Join(cp, " ")
}
