package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var multiSpaceRe = regexp.MustCompile(`\s+`)

// nameStopwords are dropped from names before comparison: legal entity
// suffixes, clinical credentials, and generic facility descriptors.
var nameStopwords = map[string]bool{
	// legal
	"LLC": true, "INC": true, "INCORPORATED": true, "CORP": true, "CORPORATION": true,
	"LTD": true, "LP": true, "LLP": true, "PC": true, "PA": true, "PLLC": true,
	"CO": true, "DBA": true,
	// credentials
	"MD": true, "DDS": true, "DMD": true, "DO": true, "DPM": true, "OD": true,
	"DVM": true, "NP": true, "PHD": true,
	// descriptors
	"THE": true, "OF": true, "AND": true, "CLINIC": true, "CENTER": true,
	"CENTRE": true, "OFFICE": true, "PRACTICE": true, "FACILITY": true,
}

// Fold removes diacritics, e.g. "Clínica" becomes "Clinica".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// CleanText trims and collapses internal whitespace.
func CleanText(s string) string {
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
}

// NameTokens returns the comparable tokens of a facility name: folded,
// upper-cased, punctuation removed, stopwords dropped. If every token is a
// stopword the unfiltered tokens are returned so that "The Clinic" still has
// something to compare.
func NameTokens(name string) []string {
	name = strings.ToUpper(Fold(name))
	name = strings.NewReplacer("'", "", ".", "", "&", " AND ").Replace(name)

	raw := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	kept := make([]string, 0, len(raw))
	for _, tok := range raw {
		if !nameStopwords[tok] {
			kept = append(kept, tok)
		}
	}
	if len(kept) == 0 {
		return raw
	}
	return kept
}

// NameKey joins NameTokens with single spaces.
func NameKey(name string) string {
	return strings.Join(NameTokens(name), " ")
}
