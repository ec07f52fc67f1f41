package event

import (
	"strconv"
	"strings"
)

// NormalizeValue parses an amount written with either "." or "," as the decimal separator,
// e.g. "1.234,56", "1,234.56", "10,50", "1.000". Returns 0 if nothing parses.
func NormalizeValue(raw string) float64 {
	s := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			return r
		}
		return -1
	}, raw)
	if s == "" {
		return 0
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		s = decimalOrGrouping(s, ",")
	case lastDot >= 0:
		s = decimalOrGrouping(s, ".")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// decimalOrGrouping treats sep as a decimal separator only when it occurs once with at most
// two digits after it.
func decimalOrGrouping(s, sep string) string {
	if strings.Count(s, sep) == 1 {
		tail := s[strings.LastIndex(s, sep)+1:]
		if len(tail) <= 2 {
			return strings.Replace(s, sep, ".", 1)
		}
	}
	return strings.ReplaceAll(s, sep, "")
}
