package schema

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/pdf2schema/constants"
)

// ParseResult is either ParseSuccess or ParseFailure.
type ParseResult interface {
	isParseResult()
}

type ParseSuccess struct {
	Document Document
}

type ParseFailure struct {
	Reason string
}

func (ParseSuccess) isParseResult() {}
func (ParseFailure) isParseResult() {}

// ParseError carries the first structural violation found in a response.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "parse: " + e.Reason }

var requiredFieldKeys = []string{"name", "type", "description"}

// Parser turns raw completion text into a Document. It is safe for concurrent use.
type Parser struct {
	shape       *jsonschema.Schema
	featureLine *regexp.Regexp
}

func NewParser() (*Parser, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("document.json", strings.NewReader(DocumentJSONSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	shape, err := compiler.Compile("document.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Parser{
		shape:       shape,
		featureLine: regexp.MustCompile(constants.FeatureLinePattern),
	}, nil
}

// ParseDocument is Parse with the failure branch converted to *ParseError.
func (p *Parser) ParseDocument(raw string) (Document, error) {
	switch r := p.Parse(raw).(type) {
	case ParseSuccess:
		return r.Document, nil
	case ParseFailure:
		return Document{}, &ParseError{Reason: r.Reason}
	default:
		return Document{}, &ParseError{Reason: "unknown parse result"}
	}
}

// Parse strips markup, decodes YAML or JSON, and checks the document
// invariants, stopping at the first violation.
func (p *Parser) Parse(raw string) ParseResult {
	text := stripMarkup(raw)
	if text == "" {
		return ParseFailure{Reason: "empty response"}
	}

	var root yaml.Node
	if err := yaml.Unmarshal([]byte(text), &root); err != nil {
		return ParseFailure{Reason: "invalid YAML/JSON: " + err.Error()}
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return ParseFailure{Reason: "top-level value must be a mapping"}
	}
	top := root.Content[0]

	var decoded any
	if err := top.Decode(&decoded); err != nil {
		return ParseFailure{Reason: "invalid YAML/JSON: " + err.Error()}
	}
	m, ok := normalize(decoded).(map[string]any)
	if !ok {
		return ParseFailure{Reason: "top-level value must be a mapping"}
	}

	if _, ok := m["tables"]; !ok {
		converted, reason := p.fromTemplateShape(top, m)
		if reason != "" {
			return ParseFailure{Reason: reason}
		}
		m = converted
	}

	if err := p.shape.Validate(m); err != nil {
		return ParseFailure{Reason: firstViolation(err)}
	}

	doc, reason := walk(m)
	if reason != "" {
		return ParseFailure{Reason: reason}
	}
	return ParseSuccess{Document: doc}
}

// fromTemplateShape converts {<dataset>: [{role: system, content: ...}]} into
// the tables shape, keeping the dataset order of the source.
func (p *Parser) fromTemplateShape(top *yaml.Node, m map[string]any) (map[string]any, string) {
	tables := make([]any, 0, len(top.Content)/2)
	var description string
	for i := 0; i+1 < len(top.Content); i += 2 {
		name := top.Content[i].Value
		messages, ok := m[name].([]any)
		if !ok {
			return nil, fmt.Sprintf(`missing "tables" key and %q is not a list of messages`, name)
		}
		content := ""
		for _, msg := range messages {
			mm, ok := msg.(map[string]any)
			if !ok {
				continue
			}
			if role, _ := mm["role"].(string); role != constants.RequiredRole {
				continue
			}
			if c, ok := mm["content"].(string); ok && strings.TrimSpace(c) != "" {
				content = c
				break
			}
		}
		if content == "" {
			return nil, fmt.Sprintf("dataset %q: no %s message with content", name, constants.RequiredRole)
		}

		if description == "" {
			description = p.blockDescription(content)
		}
		var fields []any
		for _, match := range p.featureLine.FindAllStringSubmatch(content, -1) {
			fields = append(fields, map[string]any{
				"name":        strings.TrimSpace(match[1]),
				"type":        strings.TrimSpace(match[2]),
				"description": strings.TrimSpace(match[3]),
			})
		}
		if fields == nil {
			fields = []any{}
		}
		tables = append(tables, map[string]any{"name": name, "fields": fields})
	}
	out := map[string]any{"tables": tables}
	if description != "" {
		out["dataset_description"] = description
	}
	return out, ""
}

// blockDescription returns the text between the description header and the
// columns header (or the first feature line).
func (p *Parser) blockDescription(content string) string {
	i := strings.Index(content, constants.DatasetDescriptionHeader)
	if i < 0 {
		return ""
	}
	rest := content[i+len(constants.DatasetDescriptionHeader):]
	end := len(rest)
	if j := strings.Index(rest, constants.ColumnsHeader); j >= 0 {
		end = j
	}
	if loc := p.featureLine.FindStringIndex(rest); loc != nil && loc[0] < end {
		end = loc[0]
	}
	return strings.TrimSpace(rest[:end])
}

// walk enforces the document invariants in document order.
func walk(m map[string]any) (Document, string) {
	doc := Document{Tables: []Table{}}
	if s, ok := m["dataset_description"].(string); ok {
		doc.Description = strings.TrimSpace(s)
	}

	rawTables, _ := m["tables"].([]any)
	seenTables := make(map[string]struct{}, len(rawTables))
	for i, rt := range rawTables {
		tm := rt.(map[string]any)
		name := str(tm["name"])
		if name == "" {
			return Document{}, fmt.Sprintf("table %d: missing name", i)
		}
		if _, dup := seenTables[name]; dup {
			return Document{}, fmt.Sprintf("duplicate table name %q", name)
		}
		seenTables[name] = struct{}{}

		table := Table{Name: name, Fields: []Field{}}
		rawFields, _ := tm["fields"].([]any)
		seenFields := make(map[string]struct{}, len(rawFields))
		for j, rf := range rawFields {
			fm := rf.(map[string]any)
			for _, key := range requiredFieldKeys {
				v, present := fm[key]
				if !present {
					return Document{}, fmt.Sprintf("table %q field %d: missing required key %q", name, j, key)
				}
				if str(v) == "" {
					return Document{}, fmt.Sprintf("table %q field %d: empty %s", name, j, key)
				}
			}
			f := Field{
				Name:        str(fm["name"]),
				Type:        str(fm["type"]),
				Description: str(fm["description"]),
			}
			if ft, known := constants.Canonicalize(f.Type); known {
				f.Type = string(ft)
			}
			if _, dup := seenFields[f.Name]; dup {
				return Document{}, fmt.Sprintf("table %q: duplicate field name %q", name, f.Name)
			}
			seenFields[f.Name] = struct{}{}
			if v, ok := fm["confidence_score"].(float64); ok {
				f.ConfidenceScore = Score(v)
			}
			table.Fields = append(table.Fields, f)
		}
		doc.Tables = append(doc.Tables, table)
	}
	return doc, ""
}

// firstViolation picks a deterministic leaf error from a jsonschema failure.
func firstViolation(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var leaves []*jsonschema.ValidationError
	var collect func(e *jsonschema.ValidationError)
	collect = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			leaves = append(leaves, e)
			return
		}
		for _, c := range e.Causes {
			collect(c)
		}
	}
	collect(ve)
	sort.SliceStable(leaves, func(i, j int) bool {
		if leaves[i].InstanceLocation != leaves[j].InstanceLocation {
			return leaves[i].InstanceLocation < leaves[j].InstanceLocation
		}
		return leaves[i].KeywordLocation < leaves[j].KeywordLocation
	})
	leaf := leaves[0]
	loc := leaf.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("%s: %s", loc, leaf.Message)
}

// stripMarkup removes code fences and surrounding prose.
func stripMarkup(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		inner := s[i+3:]
		// drop the info string ("yaml", "json") up to the end of the line
		if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
			inner = inner[nl+1:]
		} else {
			inner = ""
		}
		if j := strings.Index(inner, "```"); j >= 0 {
			inner = inner[:j]
		}
		s = strings.TrimSpace(inner)
	}

	lines := strings.Split(s, "\n")
	// a JSON object starting at column 0 wins over any leading prose
	for i, ln := range lines {
		if !strings.HasPrefix(ln, "{") {
			continue
		}
		js := strings.Join(lines[i:], "\n")
		if j := strings.LastIndexByte(js, '}'); j > 0 {
			js = js[:j+1]
		}
		// tabs are legal JSON whitespace but not YAML indentation
		return strings.ReplaceAll(js, "\t", "  ")
	}

	for i, ln := range lines {
		t := strings.TrimSpace(ln)
		if strings.Contains(t, ":") || strings.HasPrefix(t, "-") {
			return strings.TrimSpace(strings.Join(lines[i:], "\n"))
		}
	}
	return s
}

// normalize converts YAML-decoded values into JSON-compatible ones.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return v
	}
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// DocumentJSONSchema is the shape gate: value types and score ranges. Key
// presence and uniqueness are checked by walk so violations come out in
// document order.
const DocumentJSONSchema = `{
  "type": "object",
  "required": ["tables"],
  "properties": {
    "dataset_description": {"type": ["string", "null"]},
    "confidence_score": {"type": "number", "minimum": 0, "maximum": 100},
    "tables": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["fields"],
        "properties": {
          "name": {"type": ["string", "null"]},
          "confidence_score": {"type": "number", "minimum": 0, "maximum": 100},
          "fields": {
            "type": "array",
            "items": {
              "type": "object",
              "properties": {
                "name": {"type": ["string", "null"]},
                "type": {"type": ["string", "null"]},
                "description": {"type": ["string", "null"]},
                "confidence_score": {"type": "number", "minimum": 0, "maximum": 100}
              }
            }
          }
        }
      }
    }
  }
}`
