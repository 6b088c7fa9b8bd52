package textutil

import (
	"regexp"
	"strconv"
	"strings"
)

var digitsRegex = regexp.MustCompile(`[0-9]+`)

// FirstInt extracts the first run of digits in the string, e.g.
// "129m\n" -> 129. Returns 0 and false when no digits are present.
func FirstInt(s string) (int, bool) {
	match := digitsRegex.FindString(s)
	if match == "" {
		return 0, false
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseGroupedInt parses an integer that may carry thousands
// separators, e.g. "1,099" -> 1099.
func ParseGroupedInt(s string) (int, error) {
	return strconv.Atoi(strings.ReplaceAll(s, ",", ""))
}

var decimalRegex = regexp.MustCompile(`[\d.]+`)

// ParseLeadingFloat reads a decimal number out of a string with a
// trailing unit, e.g. "6.25 km" -> 6.25.
func ParseLeadingFloat(s string) (float64, error) {
	return strconv.ParseFloat(decimalRegex.FindString(s), 64)
}
