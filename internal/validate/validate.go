package validate

import (
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/joseph-ayodele/pdf2schema/constants"
	"github.com/joseph-ayodele/pdf2schema/internal/common"
	"github.com/joseph-ayodele/pdf2schema/internal/schema"
)

// maxListed caps how many offending fields one defect names.
const maxListed = 10

// Rules is the template a candidate document is checked against. Treat it as
// immutable once built.
type Rules struct {
	RequiredTopLevelKeys []string
	RequiredFieldKeys    []string
	Pattern              *regexp.Regexp // rendered content block of each table
	DomainKeywords       []string
	MinKeywords          int
}

func DefaultRules() Rules {
	return Rules{
		RequiredTopLevelKeys: slices.Clone(constants.DefaultRequiredTopLevelKeys),
		RequiredFieldKeys:    slices.Clone(constants.DefaultRequiredFieldKeys),
		Pattern:              regexp.MustCompile(constants.DefaultBlockPattern),
		DomainKeywords:       slices.Clone(constants.DefaultSchemaKeywords),
		MinKeywords:          1,
	}
}

// NewRules compiles the template section of the configuration.
func NewRules(cfg common.TemplateConfig) (Rules, error) {
	re, err := regexp.Compile(cfg.RequiredPattern)
	if err != nil {
		return Rules{}, common.NewAppError(common.CodeConfig, "invalid template pattern", err)
	}
	return Rules{
		RequiredTopLevelKeys: slices.Clone(cfg.RequiredTopLevelKeys),
		RequiredFieldKeys:    slices.Clone(cfg.RequiredFieldKeys),
		Pattern:              re,
		DomainKeywords:       slices.Clone(cfg.DomainKeywords),
		MinKeywords:          cfg.MinKeywords,
	}, nil
}

// Report is the outcome of one validation. Passed is true iff Defects is empty.
type Report struct {
	Passed  bool     `json:"passed"`
	Defects []string `json:"defects"`
}

// Validate runs the template checks in a fixed order; each contributes at most
// one defect. It has no side effects.
func Validate(doc schema.Document, rules Rules) Report {
	var defects []string
	for _, check := range []func(schema.Document, Rules) string{
		checkPattern,
		checkFieldKeys,
		checkDescription,
		checkKeywords,
	} {
		if d := check(doc, rules); d != "" {
			defects = append(defects, d)
		}
	}
	return Report{Passed: len(defects) == 0, Defects: defects}
}

func checkPattern(doc schema.Document, rules Rules) string {
	var problems []string
	present := doc.TopLevelKeys()
	var missing []string
	for _, k := range rules.RequiredTopLevelKeys {
		if !slices.Contains(present, k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		problems = append(problems, "missing required top-level keys: "+strings.Join(missing, ", "))
	}
	if rules.Pattern != nil {
		for _, t := range doc.Tables {
			if !rules.Pattern.MatchString(schema.RenderTable(t, doc.Description)) {
				problems = append(problems, fmt.Sprintf("rendered block for table %q does not match the template pattern", t.Name))
				break
			}
		}
	}
	return strings.Join(problems, "; ")
}

func checkFieldKeys(doc schema.Document, rules Rules) string {
	if len(rules.RequiredFieldKeys) == 0 {
		return ""
	}
	var offenders []string
	total := 0
	for _, t := range doc.Tables {
		for i, f := range t.Fields {
			have := f.Keys()
			var missing []string
			for _, k := range rules.RequiredFieldKeys {
				if !slices.Contains(have, k) {
					missing = append(missing, k)
				}
			}
			if len(missing) == 0 {
				continue
			}
			total++
			if len(offenders) < maxListed {
				name := f.Name
				if name == "" {
					name = fmt.Sprintf("#%d", i)
				}
				offenders = append(offenders, fmt.Sprintf("%s.%s (%s)", t.Name, name, strings.Join(missing, ", ")))
			}
		}
	}
	if total == 0 {
		return ""
	}
	msg := "fields missing required keys: " + strings.Join(offenders, "; ")
	if total > len(offenders) {
		msg += fmt.Sprintf(" (and %d more)", total-len(offenders))
	}
	return msg
}

func checkDescription(doc schema.Document, _ Rules) string {
	if strings.TrimSpace(doc.Description) == "" {
		return "missing description: dataset_description must not be empty"
	}
	return ""
}

func checkKeywords(doc schema.Document, rules Rules) string {
	if rules.MinKeywords <= 0 {
		return ""
	}
	var sb strings.Builder
	for _, t := range doc.Tables {
		for _, f := range t.Fields {
			sb.WriteString(strings.ToLower(f.Description))
			sb.WriteByte('\n')
		}
	}
	text := sb.String()

	seen := make(map[string]struct{}, len(rules.DomainKeywords))
	var keywords []string
	found := 0
	for _, kw := range rules.DomainKeywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keywords = append(keywords, k)
		if strings.Contains(text, k) {
			found++
		}
	}
	if found >= rules.MinKeywords {
		return ""
	}
	return fmt.Sprintf("field descriptions mention %d of the domain keywords [%s]; at least %d required",
		found, strings.Join(keywords, ", "), rules.MinKeywords)
}

// Validator binds Rules to a logger for use inside the refinement loop.
type Validator struct {
	rules  Rules
	logger *slog.Logger
}

func New(rules Rules, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{rules: rules, logger: logger}
}

func (v *Validator) Rules() Rules { return v.rules }

func (v *Validator) Validate(doc schema.Document) Report {
	r := Validate(doc, v.rules)
	if r.Passed {
		v.logger.Debug("validate.report.passed", "tables", len(doc.Tables), "fields", doc.FieldCount())
	} else {
		v.logger.Info("validate.report.failed", "defects", len(r.Defects), "first", r.Defects[0])
	}
	return r
}
