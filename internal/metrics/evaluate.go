package metrics

import (
	"fmt"
	"math"
	"strings"

	"github.com/joseph-ayodele/pdf2schema/constants"
	"github.com/joseph-ayodele/pdf2schema/internal/schema"
)

const (
	msgAllMatch     = "All features match."
	msgAllDescribed = "All features are described."
)

// Report compares an output document with ground truth. Percentages are in [0,100].
type Report struct {
	Accuracy         float64  `json:"accuracy"`
	Coverage         float64  `json:"coverage"`
	Expected         int      `json:"expected_features"`
	Correct          int      `json:"correct_features"`
	Described        int      `json:"described_features"`
	AccuracyMessages []string `json:"accuracy_messages"`
	CoverageMessages []string `json:"coverage_messages"`
}

// AccuracyMessage joins the accuracy messages the way reports print them.
func (r Report) AccuracyMessage() string { return strings.Join(r.AccuracyMessages, "\n") }

func (r Report) CoverageMessage() string { return strings.Join(r.CoverageMessages, "\n") }

// Evaluate scores output against truth: accuracy counts exact name plus
// canonical type matches, coverage counts names only. Tables pair up by name,
// or positionally when output has a single table. No ground-truth features
// gives 0 for both.
func Evaluate(output, truth schema.Document) Report {
	var r Report
	for ti, gt := range truth.Tables {
		got := pairTable(output, gt.Name, ti, len(truth.Tables))
		outTypes := make(map[string]string, len(got.Fields))
		for _, f := range got.Fields {
			outTypes[f.Name] = f.Type
		}
		for _, f := range gt.Fields {
			r.Expected++
			typ, present := outTypes[f.Name]
			if !present {
				r.AccuracyMessages = append(r.AccuracyMessages, fmt.Sprintf("Missing feature '%s'", f.Name))
				r.CoverageMessages = append(r.CoverageMessages, fmt.Sprintf("Missing description for feature '%s'", f.Name))
				continue
			}
			r.Described++
			if canonicalType(typ) == canonicalType(f.Type) {
				r.Correct++
				continue
			}
			r.AccuracyMessages = append(r.AccuracyMessages,
				fmt.Sprintf("Wrong type for feature '%s': expected '%s', got '%s'", f.Name, f.Type, typ))
		}
	}
	if len(r.AccuracyMessages) == 0 {
		r.AccuracyMessages = []string{msgAllMatch}
	}
	if len(r.CoverageMessages) == 0 {
		r.CoverageMessages = []string{msgAllDescribed}
	}
	r.Accuracy = percent(r.Correct, r.Expected)
	r.Coverage = percent(r.Described, r.Expected)
	return r
}

func pairTable(output schema.Document, name string, index, truthTables int) schema.Table {
	for _, t := range output.Tables {
		if t.Name == name {
			return t
		}
	}
	if len(output.Tables) == 1 && truthTables == 1 && index == 0 {
		return output.Tables[0]
	}
	return schema.Table{}
}

func canonicalType(t string) string {
	if ft, ok := constants.Canonicalize(t); ok {
		return string(ft)
	}
	return strings.ToLower(strings.TrimSpace(t))
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*10000) / 100
}
