package args

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	intPrefix   = regexp.MustCompile(`^[+-]?\d+`)
	floatPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)
)

// absentValue marks a converted entry that has no value. It is stored
// while groups are applied, so it shadows earlier groups, and is removed
// before the Set is returned. A nil result is an explicit JSON null.
type absentValue struct{}

var absent = absentValue{}

func isAbsent(v any) bool {
	_, ok := v.(absentValue)
	return ok
}

func identity(v any) any {
	if v == nil {
		return absent
	}
	return v
}

// toString never yields an absent value.
func toString(v any) any {
	return stringify(v)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}

// toInteger parses the leading base-10 integer of v. Blank and missing
// values are absent; unparsable ones become null.
func toInteger(v any) any {
	if isBlank(v) {
		return absent
	}
	s := intPrefix.FindString(strings.TrimLeft(stringify(v), " \t\n\r"))
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return nil
		}
		return f
	}
	return n
}

// toFloat parses the leading decimal number of v. Blank and missing values
// are absent; unparsable and infinite ones become null.
func toFloat(v any) any {
	if isBlank(v) {
		return absent
	}
	s := floatPrefix.FindString(strings.TrimLeft(stringify(v), " \t\n\r"))
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	return f
}

// toBoolean maps true/"true" and false/"false"; anything else passes through.
func toBoolean(v any) any {
	switch v {
	case nil:
		return absent
	case true, "true":
		return true
	case false, "false":
		return false
	}
	return v
}

// parseJSONMaybe decodes string values as JSON and keeps the raw string
// when they do not parse, so "null" yields an explicit null. Non-strings
// pass through.
func parseJSONMaybe(v any) any {
	s, ok := v.(string)
	if !ok {
		return identity(v)
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return s
	}
	return out
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
