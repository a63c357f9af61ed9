package schema

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Field is one column of a table. Type holds the canonical enum value when the
// label is known, otherwise the label as produced.
type Field struct {
	Name            string   `json:"name" yaml:"name"`
	Type            string   `json:"type" yaml:"type"`
	Description     string   `json:"description" yaml:"description"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty" yaml:"confidence_score,omitempty"`
}

type Table struct {
	Name            string   `json:"name" yaml:"name"`
	Fields          []Field  `json:"fields" yaml:"fields"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty" yaml:"confidence_score,omitempty"`
}

// Document is an immutable candidate schema. Methods never mutate the receiver;
// anything that needs a modified document works on Clone().
type Document struct {
	Description     string   `json:"dataset_description,omitempty" yaml:"dataset_description,omitempty"`
	Tables          []Table  `json:"tables" yaml:"tables"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty" yaml:"confidence_score,omitempty"`
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	out := Document{
		Description:     d.Description,
		ConfidenceScore: cloneScore(d.ConfidenceScore),
	}
	if d.Tables != nil {
		out.Tables = make([]Table, len(d.Tables))
	}
	for i, t := range d.Tables {
		ct := Table{Name: t.Name, ConfidenceScore: cloneScore(t.ConfidenceScore)}
		if t.Fields != nil {
			ct.Fields = make([]Field, len(t.Fields))
		}
		for j, f := range t.Fields {
			f.ConfidenceScore = cloneScore(f.ConfidenceScore)
			ct.Fields[j] = f
		}
		out.Tables[i] = ct
	}
	return out
}

// WithoutScores returns a copy with every confidence score cleared.
func (d Document) WithoutScores() Document {
	out := d.Clone()
	out.ConfidenceScore = nil
	for i := range out.Tables {
		out.Tables[i].ConfidenceScore = nil
		for j := range out.Tables[i].Fields {
			out.Tables[i].Fields[j].ConfidenceScore = nil
		}
	}
	return out
}

// FieldCount is the number of fields across all tables.
func (d Document) FieldCount() int {
	n := 0
	for _, t := range d.Tables {
		n += len(t.Fields)
	}
	return n
}

// TopLevelKeys lists the top-level keys the document carries.
func (d Document) TopLevelKeys() []string {
	var keys []string
	if d.Description != "" {
		keys = append(keys, "dataset_description")
	}
	if d.Tables != nil {
		keys = append(keys, "tables")
	}
	return keys
}

// Keys lists the keys of f holding a value.
func (f Field) Keys() []string {
	var keys []string
	if f.Name != "" {
		keys = append(keys, "name")
	}
	if f.Type != "" {
		keys = append(keys, "type")
	}
	if f.Description != "" {
		keys = append(keys, "description")
	}
	if f.ConfidenceScore != nil {
		keys = append(keys, "confidence_score")
	}
	return keys
}

// MarshalYAMLText serializes the document (without scores) in the tables
// shape; this is the form embedded into refinement prompts.
func MarshalYAMLText(d Document) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.WithoutScores()); err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return buf.String(), nil
}

// Score returns a pointer to v for the optional score fields.
func Score(v float64) *float64 { return &v }

func cloneScore(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
