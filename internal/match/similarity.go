package match

import (
	"strings"

	"github.com/agext/levenshtein"

	"github.com/harvest-med/lead-pipeline/internal/normalize"
)

// NameSimilarity scores two facility names on a 0-1 scale. It takes the
// better of edit-distance similarity over the normalized names and the Dice
// coefficient over their token sets.
func NameSimilarity(a, b string) float64 {
	return tokenSimilarity(normalize.NameTokens(a), normalize.NameTokens(b))
}

func tokenSimilarity(ta, tb []string) float64 {
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	ka, kb := strings.Join(ta, " "), strings.Join(tb, " ")
	if ka == kb {
		return 1
	}
	lev := levenshtein.Similarity(ka, kb, nil)
	if d := dice(ta, tb); d > lev {
		return d
	}
	return lev
}

func dice(ta, tb []string) float64 {
	sa := make(map[string]bool, len(ta))
	for _, t := range ta {
		sa[t] = true
	}
	sb := make(map[string]bool, len(tb))
	for _, t := range tb {
		sb[t] = true
	}
	shared := 0
	for t := range sa {
		if sb[t] {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(sa)+len(sb))
}
