package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/pdf2schema/internal/ocr"
)

type stubRunner struct{ out string }

func (s stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	if name == "pdftoppm" {
		prefix := args[len(args)-1]
		return nil, nil, os.WriteFile(prefix+"-1.png", []byte("png"), 0o600)
	}
	return []byte(s.out), nil, nil
}

func TestExtractorFunc(t *testing.T) {
	f := ExtractorFunc(func(_ context.Context, path string) (Result, error) {
		return Result{Text: "from " + path}, nil
	})
	var te TextExtractor = f
	r, err := te.Extract(context.Background(), "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "from a.pdf", r.Text)
}

func TestExtractionError(t *testing.T) {
	cause := errors.New("bad xref")
	var err error = &ExtractionError{Path: "x.pdf", Cause: cause}
	wrapped := errors.Join(errors.New("outer"), err)

	assert.True(t, IsExtractionError(wrapped))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "extraction failed for x.pdf: bad xref", err.Error())
	assert.False(t, IsExtractionError(cause))
}

func TestOCRAdapter_WrapsFailures(t *testing.T) {
	a := NewOCRAdapter(ocr.NewExtractorWithRunner(ocr.Config{}, stubRunner{}, nil), nil)
	_, err := a.Extract(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
	assert.True(t, IsExtractionError(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOCRAdapter_RejectsEmptyText(t *testing.T) {
	// not a real PDF: the text layer fails and OCR yields only whitespace
	p := filepath.Join(t.TempDir(), "blank.pdf")
	require.NoError(t, os.WriteFile(p, []byte("not a pdf"), 0o600))
	a := NewOCRAdapter(ocr.NewExtractorWithRunner(ocr.Config{}, stubRunner{out: "  \n "}, nil), nil)

	_, err := a.Extract(context.Background(), p)
	require.Error(t, err)
	assert.True(t, IsExtractionError(err))
}

func TestOCRAdapter_ScannedPDF(t *testing.T) {
	p := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, os.WriteFile(p, []byte("not a pdf"), 0o600))
	a := NewOCRAdapter(ocr.NewExtractorWithRunner(ocr.Config{}, stubRunner{out: "order_id  integer"}, nil), nil)

	r, err := a.Extract(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "order_id integer", r.Text)
	assert.Equal(t, ocr.MethodPDFOCR, r.Method)
	assert.Equal(t, 1, r.Pages)
}
