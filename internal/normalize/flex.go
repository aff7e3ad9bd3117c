package normalize

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// flexString accepts a JSON string or number. Registry exports are not
// consistent about quoting identifiers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts a JSON number or a numeric string. Empty and unparseable
// values decode as unknown.
type flexInt struct {
	v *int
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	str := strings.ReplaceAll(string(s), ",", "")
	if str == "" {
		f.v = nil
		return nil
	}
	if n, err := strconv.Atoi(str); err == nil {
		f.v = &n
		return nil
	}
	if fl, err := strconv.ParseFloat(str, 64); err == nil {
		n := int(fl)
		f.v = &n
		return nil
	}
	f.v = nil
	return nil
}
