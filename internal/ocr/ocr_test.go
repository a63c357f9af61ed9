package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu       sync.Mutex
	pages    int
	failPPM  bool
	calls    []string
	pageText func(img string) string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	switch name {
	case "pdftoppm":
		if f.failPPM {
			return nil, []byte("boom"), errors.New("exit status 1")
		}
		prefix := args[len(args)-1]
		for i := 1; i <= f.pages; i++ {
			if err := os.WriteFile(fmt.Sprintf("%s-%d.png", prefix, i), []byte("png"), 0o600); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	case "tesseract":
		img := args[0]
		if f.pageText != nil {
			return []byte(f.pageText(img)), nil, nil
		}
		return []byte("customer_id integer unique id\n-----\n"), nil, nil
	}
	return nil, nil, fmt.Errorf("unexpected command %s", name)
}

func writePDF(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4\n"), 0o600))
	return p
}

func TestExtract_TextLayer(t *testing.T) {
	r := &fakeRunner{pages: 1}
	e := NewExtractorWithRunner(Config{MinTextChars: 10}, r, nil)
	e.textLayer = func(string) ([]string, error) {
		return []string{"Table customers\ncustomer_id  integer\tunique id", "page two"}, nil
	}

	res, err := e.Extract(context.Background(), writePDF(t))
	require.NoError(t, err)
	assert.Equal(t, MethodPDFText, res.Method)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, "Table customers\ncustomer_id integer unique id\n\f\npage two", res.Text)
	assert.Empty(t, r.calls, "OCR must not run when the text layer is usable")
	assert.Greater(t, res.Confidence, float32(0.2))
}

func TestExtract_FallsBackToOCR(t *testing.T) {
	r := &fakeRunner{pages: 2}
	e := NewExtractorWithRunner(Config{MinTextChars: 50}, r, nil)
	e.textLayer = func(string) ([]string, error) { return []string{""}, nil }

	res, err := e.Extract(context.Background(), writePDF(t))
	require.NoError(t, err)
	assert.Equal(t, MethodPDFOCR, res.Method)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, "eng", res.Language)
	assert.Equal(t, "customer_id integer unique id\n\f\ncustomer_id integer unique id", res.Text)
	assert.Equal(t, []string{"pdftoppm", "tesseract", "tesseract"}, r.calls)
}

func TestExtract_OCRFailureKeepsThinTextLayer(t *testing.T) {
	r := &fakeRunner{failPPM: true}
	e := NewExtractorWithRunner(Config{MinTextChars: 500}, r, nil)
	e.textLayer = func(string) ([]string, error) { return []string{"short text"}, nil }

	res, err := e.Extract(context.Background(), writePDF(t))
	require.NoError(t, err)
	assert.Equal(t, MethodPDFText, res.Method)
	assert.Equal(t, "short text", res.Text)
	assert.NotEmpty(t, res.Warnings)
}

func TestExtract_NothingReadable(t *testing.T) {
	r := &fakeRunner{failPPM: true}
	e := NewExtractorWithRunner(Config{}, r, nil)
	e.textLayer = func(string) ([]string, error) { return nil, errors.New("corrupt xref") }

	_, err := e.Extract(context.Background(), writePDF(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftoppm")
}

func TestExtract_RejectsNonPDF(t *testing.T) {
	e := NewExtractorWithRunner(Config{}, &fakeRunner{}, nil)
	p := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))

	_, err := e.Extract(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported extension")
}

func TestExtract_MissingFile(t *testing.T) {
	e := NewExtractorWithRunner(Config{}, &fakeRunner{}, nil)
	_, err := e.Extract(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestExtract_CanceledBeforeOCR(t *testing.T) {
	r := &fakeRunner{pages: 1}
	e := NewExtractorWithRunner(Config{MinTextChars: 100}, r, nil)
	e.textLayer = func(string) ([]string, error) { return []string{""}, nil }
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Extract(ctx, writePDF(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.calls)
}

func TestTextFromContentStream(t *testing.T) {
	stream := strings.Join([]string{
		"BT",
		"/F1 12 Tf",
		"72 712 Td",
		"(Customer table) Tj",
		"T*",
		"[(cust) -20 (omer_id)] TJ",
		"(\\(int\\)) Tj",
		"ET",
	}, "\n")
	got := textFromContentStream([]byte(stream))
	assert.Equal(t, "Customer table\ncustomer_id(int)\n", got)
}

func TestDecodePDFString(t *testing.T) {
	assert.Equal(t, "a\nb", decodePDFString([]byte(`a\nb`)))
	assert.Equal(t, "A", decodePDFString([]byte(`\101`)))
	assert.Equal(t, `x\y`, decodePDFString([]byte(`x\\y`)))
}

func TestNormalize(t *testing.T) {
	in := "  col_a\t\tint \r\n\r\n\r\n\r\ndescrip-\ntion   here  "
	assert.Equal(t, "col_a int\n\ndescription here", Normalize(in))
	assert.Equal(t, "", Normalize(""))
}

func TestHeuristicConfidence(t *testing.T) {
	low := heuristicConfidence("hello")
	high := heuristicConfidence("Table orders\norder_id: integer\namount: float\ncreated_at: datetime\n" +
		strings.Repeat("column descriptions for the orders schema ", 3))
	assert.InDelta(t, 0.2, low, 0.001)
	assert.Greater(t, high, low)
	assert.LessOrEqual(t, high, float32(1))
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "Syntax Error: Couldn't read xref table", lastLine("warning: x\nSyntax Error: Couldn't read xref table"))
	assert.Equal(t, "single", lastLine("single"))
}
