package llm

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reFence  = regexp.MustCompile("(?s)^\\s*```[A-Za-z0-9_-]*\\s*\\n(.*?)\\n?```\\s*$")
	reNumber = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
)

// StripFences removes a single surrounding markdown code fence, if any.
func StripFences(s string) string {
	if m := reFence.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(s)
}

// ExtractNumber returns the first number in a reply like "Score: 87/100".
func ExtractNumber(s string) (float64, bool) {
	m := reNumber.FindString(StripFences(s))
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
