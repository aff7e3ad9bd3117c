package normalize

import "strings"

// Phone strips formatting from a US phone or fax number. A leading country
// code is dropped from 11-digit numbers. Anything that is not exactly ten
// digits afterwards is rejected and returns "".
func Phone(s string) string {
	d := digits(s)
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	if len(d) != 10 {
		return ""
	}
	return d
}

// Zip5 returns the five-digit zip code prefix, or "" when there is none.
func Zip5(s string) string {
	d := digits(s)
	if len(d) < 5 {
		return ""
	}
	return d[:5]
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
