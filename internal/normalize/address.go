package normalize

import (
	"strings"
	"unicode"
)

var addressAbbrev = map[string]string{
	"STREET": "ST", "AVENUE": "AVE", "BOULEVARD": "BLVD", "DRIVE": "DR",
	"LANE": "LN", "ROAD": "RD", "COURT": "CT", "CIRCLE": "CIR", "PLACE": "PL",
	"HIGHWAY": "HWY", "PARKWAY": "PKWY", "TERRACE": "TER", "TRAIL": "TRL",
	"NORTH": "N", "SOUTH": "S", "EAST": "E", "WEST": "W",
	"NORTHEAST": "NE", "NORTHWEST": "NW", "SOUTHEAST": "SE", "SOUTHWEST": "SW",
	"SUITE": "STE", "APARTMENT": "APT", "BUILDING": "BLDG", "FLOOR": "FL", "ROOM": "RM",
}

var unitDesignators = map[string]bool{
	"STE": true, "APT": true, "UNIT": true, "BLDG": true, "FL": true, "RM": true, "#": true,
}

var directionals = map[string]bool{
	"N": true, "S": true, "E": true, "W": true, "NE": true, "NW": true, "SE": true, "SW": true,
}

// Address upper-cases an address line and abbreviates street suffixes,
// directionals, and unit designators.
func Address(s string) string {
	return strings.Join(addressTokens(s), " ")
}

func addressTokens(s string) []string {
	s = strings.ToUpper(Fold(s))
	s = strings.NewReplacer("#", " # ", ".", "", ",", " ").Replace(s)
	toks := strings.Fields(s)
	for i, t := range toks {
		if a, ok := addressAbbrev[t]; ok {
			toks[i] = a
		}
	}
	return toks
}

// streetTokens returns the street number and name of an address line with
// any unit designator and everything after it removed.
func streetTokens(line string) []string {
	toks := addressTokens(line)
	for i, t := range toks {
		if unitDesignators[t] {
			return toks[:i]
		}
	}
	return toks
}

// MatchKey is the primary blocking key: normalized street number and street
// name plus zip5, lower-cased with punctuation removed.
func MatchKey(line1, zip5 string) string {
	parts := make([]string, 0, 4)
	for _, t := range streetTokens(line1) {
		if t = stripPunct(t); t != "" {
			parts = append(parts, strings.ToLower(t))
		}
	}
	if zip5 != "" {
		parts = append(parts, zip5)
	}
	return strings.Join(parts, " ")
}

// LooseBlockKey is zip5 plus the first token of the street name, skipping
// the street number and any leading directional.
func LooseBlockKey(line1, zip5 string) string {
	first := ""
	for _, t := range streetTokens(line1) {
		t = stripPunct(t)
		if t == "" || unicode.IsDigit(rune(t[0])) || directionals[t] {
			continue
		}
		first = strings.ToLower(t)
		break
	}
	return zip5 + "|" + first
}

func stripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
