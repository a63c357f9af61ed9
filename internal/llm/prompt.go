package llm

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/pdf2schema/constants"
	"github.com/joseph-ayodele/pdf2schema/internal/schema"
)

const truncationMarker = "\n…(truncated)"

// PromptBuilder renders generation and refinement prompts. MaxBytes <= 0
// disables the size budget.
type PromptBuilder struct {
	MaxBytes int
	Logger   *slog.Logger
}

// Build is pure: the same inputs always give the same prompt. With no prior
// candidate and no feedback it renders the generation prompt. Otherwise it
// renders the refinement prompt. When over budget, the oldest feedback items
// are dropped from the prompt first, then the source text is clipped.
func (b PromptBuilder) Build(sourceText string, prior *schema.Document, feedback []string) string {
	priorYAML := ""
	if prior != nil {
		y, err := schema.MarshalYAMLText(*prior)
		if err != nil {
			b.logger().Warn("llm.prompt.prior_marshal_failed", "error", err)
		} else {
			priorYAML = y
		}
	}
	refine := prior != nil || len(feedback) > 0

	full := render(sourceText, priorYAML, feedback, 0, refine)
	if b.MaxBytes <= 0 || len(full) <= b.MaxBytes {
		return full
	}

	for k := 1; k <= len(feedback); k++ {
		p := render(sourceText, priorYAML, feedback[k:], k, refine)
		if len(p) <= b.MaxBytes {
			b.logger().Debug("llm.prompt.feedback_truncated", "omitted", k, "bytes", len(p))
			return p
		}
	}

	omitted := len(feedback)
	base := render("", priorYAML, nil, omitted, refine)
	avail := b.MaxBytes - len(base) - len(truncationMarker)
	clipped := clip(sourceText, avail) + truncationMarker
	b.logger().Warn("llm.prompt.source_clipped",
		"source_bytes", len(sourceText), "kept_bytes", len(clipped)-len(truncationMarker), "max_bytes", b.MaxBytes)
	return render(clipped, priorYAML, nil, omitted, refine)
}

func (b PromptBuilder) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

func render(sourceText, priorYAML string, feedback []string, omitted int, refine bool) string {
	var sb strings.Builder
	sb.WriteString("You document datasets. Read the document text and describe every table and column it defines.\n")
	if !refine {
		sb.WriteString("Generate a complete YAML schema with descriptive field names and clear descriptions.\n")
	}
	sb.WriteString("\nRespond with YAML only, in this shape:\n")
	sb.WriteString("dataset_description: <one paragraph describing the dataset>\n")
	sb.WriteString("tables:\n")
	sb.WriteString("  - name: <table name>\n")
	sb.WriteString("    fields:\n")
	sb.WriteString("      - name: <column name>\n")
	fmt.Fprintf(&sb, "        type: <one of: %s>\n", strings.Join(constants.FieldTypesAsStrings(), ", "))
	sb.WriteString("        description: <what the column holds>\n")

	sb.WriteString("\nDocument text:\n<<<\n")
	sb.WriteString(sourceText)
	sb.WriteString("\n>>>\n")

	if !refine {
		return sb.String()
	}

	if priorYAML != "" {
		sb.WriteString("\nPrevious schema:\n---\n")
		sb.WriteString(strings.TrimRight(priorYAML, "\n"))
		sb.WriteString("\n---\n")
	}
	if omitted > 0 || len(feedback) > 0 {
		sb.WriteString("\nValidator Feedback:\n")
		if omitted > 0 {
			fmt.Fprintf(&sb, "(%d earlier items omitted)\n", omitted)
		}
		for i, f := range feedback {
			fmt.Fprintf(&sb, "%d. %s\n", omitted+i+1, f)
		}
	}
	sb.WriteString("\nPlease regenerate ONLY the fields the feedback names and keep every other field as it was. ")
	sb.WriteString("Aim for field names that score at least 90 and types and descriptions that score at least 75. ")
	sb.WriteString("Return the complete schema in the same YAML shape.\n")
	return sb.String()
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
