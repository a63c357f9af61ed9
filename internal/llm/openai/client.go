package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdf2schema/internal/common"
	"github.com/joseph-ayodele/pdf2schema/internal/llm"
)

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete implements llm.Completer over chat/completions. Every failure is a
// *llm.CompletionError.
func (c *Client) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	rid := uuid.New().String()
	start := time.Now()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c.logger.Info("llm.complete.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"prompt_bytes", len(prompt),
	)

	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"messages": []map[string]any{
			{"role": "system", "content": c.cfg.SystemPrompt},
			{"role": "user", "content": prompt},
		},
	}
	if c.cfg.StructuredOutput {
		body["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "schema_document",
				"schema": llm.TargetSchema(),
			},
		}
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if err != nil {
		ce := classify(err)
		c.logger.Error("llm.complete.http_error",
			"req_id", rid, "kind", ce.Kind, "status", ce.Status, "error", ce.Message,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", ce
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("llm.complete.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", &llm.CompletionError{Kind: llm.KindMalformed, Message: "decode openai response", Cause: err}
	}
	if len(cc.Choices) == 0 {
		c.logger.Error("llm.complete.no_choices", "req_id", rid, "elapsed_ms", time.Since(start).Milliseconds())
		return "", &llm.CompletionError{Kind: llm.KindMalformed, Message: "no choices in openai response"}
	}
	content := strings.TrimSpace(cc.Choices[0].Message.Content)
	if content == "" {
		return "", &llm.CompletionError{Kind: llm.KindMalformed, Message: "empty completion content"}
	}

	c.logger.Info("llm.complete.ok",
		"req_id", rid,
		"prompt_tokens", cc.Usage.PromptTokens,
		"completion_tokens", cc.Usage.CompletionTokens,
		"finish_reason", cc.Choices[0].FinishReason,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return content, nil
}

func classify(err error) *llm.CompletionError {
	var se *llm.StatusError
	if !errors.As(err, &se) {
		return llm.AsCompletionError(err)
	}
	msg := string(se.Body)
	var ae apiError
	if json.Unmarshal(se.Body, &ae) == nil && ae.Error.Message != "" {
		msg = ae.Error.Message
	}
	kind := llm.KindOther
	cause := err
	switch se.Status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable,
		http.StatusInternalServerError, http.StatusBadGateway:
		kind = llm.KindRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		kind = llm.KindTimeout
	case http.StatusUnauthorized, http.StatusForbidden:
		cause = fmt.Errorf("%w: %w", common.ErrUnauthorized, err)
	}
	return &llm.CompletionError{Kind: kind, Status: se.Status, Message: msg, Cause: cause}
}
