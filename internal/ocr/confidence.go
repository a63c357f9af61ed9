package ocr

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	reTypeWord  = regexp.MustCompile(`\b(int(eger)?|float|double|decimal|varchar|string|text|bool(ean)?|date(time)?|timestamp)\b`)
	reColumnish = regexp.MustCompile(`(?m)^\s*[A-Za-z_][A-Za-z0-9_]*\s*[:|\t ]\s*\S+`)
	reSchemaish = regexp.MustCompile(`\b(table|column|field|schema|attribute|variable|feature)s?\b`)
)

func hasTypeWords(s string) bool  { return reTypeWord.MatchString(s) }
func hasSchemaWords(s string) bool { return reSchemaish.MatchString(s) }
func hasColumnLines(s string) bool { return len(reColumnish.FindAllStringIndex(s, 3)) >= 3 }

// heuristicConfidence guesses how much the text looks like a data dictionary.
func heuristicConfidence(txt string) float32 {
	txtL := strings.ToLower(txt)
	score := float32(0.2) // base
	if hasSchemaWords(txtL) {
		score += 0.2
	}
	if hasTypeWords(txtL) {
		score += 0.2
	}
	if hasColumnLines(txt) {
		score += 0.15
	}
	if len(txt) > 120 {
		score += 0.1
	} // enough content
	if printableRatio(txt) < 0.9 {
		score -= 0.2
	}
	if score < 0 {
		score = 0
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// printableRatio is the share of runes that are printable or whitespace.
func printableRatio(s string) float64 {
	total, ok := 0, 0
	for _, r := range s {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			ok++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(ok) / float64(total)
}
