package export

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/pdf2schema/constants"
	"github.com/joseph-ayodele/pdf2schema/internal/schema"
)

// OutputName is the file name generated for a given PDF.
func OutputName(pdfPath string) string {
	base := filepath.Base(pdfPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return constants.OutputFilePrefix + stem + ".yaml"
}

// RunOutputName is OutputName suffixed with the run ID, for outputs shared by
// concurrent callers.
func RunOutputName(pdfPath, runID string) string {
	return strings.TrimSuffix(OutputName(pdfPath), ".yaml") + "_" + runID + ".yaml"
}

// YAMLWriter writes accepted documents in the dataset description template:
// one mapping entry per table holding a single system message.
type YAMLWriter struct {
	logger *slog.Logger
}

func NewYAMLWriter(logger *slog.Logger) *YAMLWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &YAMLWriter{logger: logger}
}

// Write stores doc under outDir as OutputName(pdfPath) and returns the written
// path. The file is replaced atomically.
func (w *YAMLWriter) Write(doc schema.Document, pdfPath, outDir string) (string, error) {
	return w.WriteNamed(doc, OutputName(pdfPath), outDir)
}

// WriteNamed is Write with an explicit file name.
func (w *YAMLWriter) WriteNamed(doc schema.Document, name, outDir string) (string, error) {
	start := time.Now()
	data, err := MarshalTemplate(doc)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	dst := filepath.Join(outDir, name)

	tmp, err := os.CreateTemp(outDir, ".p2s-*.yaml")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write yaml: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write yaml: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("move yaml into place: %w", err)
	}

	w.logger.Info("export.yaml.ok",
		"path", dst,
		"tables", len(doc.Tables),
		"fields", doc.FieldCount(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return dst, nil
}

// MarshalTemplate renders doc as {<table>: [{role: system, content: <block>}]},
// keeping table order. Confidence scores are not part of the template.
func MarshalTemplate(doc schema.Document) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, t := range doc.Tables {
		msg := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
			scalar("role", 0),
			scalar(constants.RequiredRole, 0),
			scalar("content", 0),
			scalar(schema.RenderTable(t, doc.Description), yaml.LiteralStyle),
		}}
		root.Content = append(root.Content,
			scalar(t.Name, 0),
			&yaml.Node{Kind: yaml.SequenceNode, Content: []*yaml.Node{msg}},
		)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadDocument loads a YAML file in either the tables or the template shape.
func ReadDocument(path string, p *schema.Parser) (schema.Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return schema.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := p.ParseDocument(string(b))
	if err != nil {
		return schema.Document{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func scalar(v string, style yaml.Style) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v, Style: style}
}
