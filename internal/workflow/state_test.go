package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joseph-ayodele/pdf2schema/constants"
	"github.com/joseph-ayodele/pdf2schema/internal/common"
	"github.com/joseph-ayodele/pdf2schema/internal/schema"
)

func TestResultFailureReason(t *testing.T) {
	doc := &schema.Document{Tables: []schema.Table{}}
	cases := []struct {
		name string
		res  Result
		want string
	}{
		{"accepted", Result{Status: constants.RunStatusAccepted, Document: doc}, ""},
		{"exhausted with candidate", Result{Status: constants.RunStatusExhausted, Document: doc, Iterations: 3},
			"refinement budget exhausted after 3 iterations; returning the last candidate"},
		{"exhausted without candidate", Result{Status: constants.RunStatusExhausted, Iterations: 2, Feedback: []string{"a", "parse error: bad"}},
			"no valid schema after 2 iterations: parse error: bad"},
		{"extraction", Result{Status: constants.RunStatusFatalError,
			ErrorDetail: common.NewAppError(common.CodeExtractionFailed, "extraction failed", errors.New("no text"))},
			"could not extract text from the PDF: no text"},
		{"completion", Result{Status: constants.RunStatusFatalError,
			ErrorDetail: common.NewAppError(common.CodeCompletionFailed, "completion failed", nil)},
			"language model request failed: completion failed"},
		{"canceled", Result{Status: constants.RunStatusFatalError,
			ErrorDetail: common.NewAppError(common.CodeCanceled, "workflow canceled", nil)},
			"conversion canceled"},
		{"fatal without detail", Result{Status: constants.RunStatusFatalError}, "conversion failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.res.FailureReason())
		})
	}
}

func TestResultDelivered(t *testing.T) {
	doc := &schema.Document{}
	assert.True(t, Result{Status: constants.RunStatusAccepted, Document: doc}.Delivered())
	assert.True(t, Result{Status: constants.RunStatusExhausted, Document: doc}.Delivered())
	assert.False(t, Result{Status: constants.RunStatusExhausted}.Delivered())
	assert.False(t, Result{Status: constants.RunStatusFatalError, Document: doc}.Delivered())
}
