package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Completer sends one prompt to a language model and returns its raw reply.
// Implementations must be safe for concurrent use.
type Completer interface {
	Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error)
}

// CompleterFunc adapts a plain function to Completer.
type CompleterFunc func(ctx context.Context, prompt string, timeout time.Duration) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	return f(ctx, prompt, timeout)
}

type ErrorKind string

const (
	KindTimeout   ErrorKind = "TIMEOUT"
	KindRateLimit ErrorKind = "RATE_LIMIT"
	KindMalformed ErrorKind = "MALFORMED"
	KindOther     ErrorKind = "OTHER"
)

type CompletionError struct {
	Kind    ErrorKind
	Status  int // HTTP status when known
	Message string
	Cause   error
}

func (e *CompletionError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("completion %s (status %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("completion %s: %s", e.Kind, msg)
}

func (e *CompletionError) Unwrap() error { return e.Cause }

// Retryable reports whether another attempt may succeed.
func (e *CompletionError) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindRateLimit
}

// AsCompletionError classifies any completion failure. Errors that are not
// already a *CompletionError become TIMEOUT for deadlines and OTHER otherwise.
func AsCompletionError(err error) *CompletionError {
	if err == nil {
		return nil
	}
	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &CompletionError{Kind: KindTimeout, Message: "deadline exceeded", Cause: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &CompletionError{Kind: KindTimeout, Message: "network timeout", Cause: err}
	}
	return &CompletionError{Kind: KindOther, Message: err.Error(), Cause: err}
}
