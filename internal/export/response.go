package export

import (
	"fmt"

	"github.com/joseph-ayodele/pdf2schema/internal/metrics"
	"github.com/joseph-ayodele/pdf2schema/internal/schema"
	"github.com/joseph-ayodele/pdf2schema/internal/workflow"
)

// Response is the JSON body returned by the HTTP, gRPC and CLI surfaces.
type Response struct {
	RunID             string            `json:"run_id,omitempty"`
	Status            string            `json:"status"`
	Tables            []schema.Table    `json:"tables"`
	DatasetDesc       string            `json:"dataset_description,omitempty"`
	OverallConfidence *float64          `json:"overall_confidence"`
	Iterations        int               `json:"iterations"`
	Feedback          []string          `json:"feedback"`
	Error             *ErrorBody        `json:"error,omitempty"`
	YAMLDownloadPath  string            `json:"yaml_download_path,omitempty"`
	Metrics           *MetricsBody      `json:"metrics,omitempty"`
	Stats             *metrics.RunStats `json:"stats,omitempty"`
	Stdout            string            `json:"stdout"`
	Stderr            string            `json:"stderr"`
	ReturnCode        int               `json:"return_code"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MetricsBody is the ground-truth comparison in the shape the metrics
// endpoint reports it.
type MetricsBody struct {
	Accuracy        float64 `json:"accuracy"`
	Coverage        float64 `json:"coverage"`
	AccuracyMessage string  `json:"accuracy_message"`
	CoverageMessage string  `json:"coverage_message"`
}

// BuildResponse flattens a workflow result. return_code is 0 only when a
// document was delivered; stderr carries the failure reason.
func BuildResponse(res workflow.Result, yamlPath string, eval *metrics.Report) Response {
	resp := Response{
		Status:            string(res.Status),
		Tables:            []schema.Table{},
		OverallConfidence: res.ConfidenceScore,
		Iterations:        res.Iterations,
		Feedback:          res.Feedback,
		YAMLDownloadPath:  yamlPath,
		Stderr:            res.FailureReason(),
		ReturnCode:        1,
	}
	if resp.Feedback == nil {
		resp.Feedback = []string{}
	}
	if res.Delivered() {
		resp.Tables = res.Document.Tables
		resp.DatasetDesc = res.Document.Description
		resp.ReturnCode = 0
		resp.Stdout = summary(res, yamlPath)
	}
	if res.ErrorDetail != nil {
		resp.Error = &ErrorBody{Code: res.ErrorDetail.Code, Message: res.FailureReason()}
	}
	if eval != nil {
		resp.Metrics = &MetricsBody{
			Accuracy:        eval.Accuracy,
			Coverage:        eval.Coverage,
			AccuracyMessage: eval.AccuracyMessage(),
			CoverageMessage: eval.CoverageMessage(),
		}
	}
	return resp
}

func summary(res workflow.Result, yamlPath string) string {
	s := fmt.Sprintf("generated %d tables with %d fields in %d iterations",
		len(res.Document.Tables), res.Document.FieldCount(), res.Iterations)
	if res.ConfidenceScore != nil {
		s += fmt.Sprintf(" (confidence %.2f)", *res.ConfidenceScore)
	}
	if yamlPath != "" {
		s += "; saved to " + yamlPath
	}
	return s
}
