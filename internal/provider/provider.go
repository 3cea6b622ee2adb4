package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// #region interfaces

// Embedder turns text into a fixed-dimension vector. Implementations do not retry.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Reasoner judges a prompt against candidate policies and returns the raw
// structured result, which must conform to ReasoningRequest.Schema.
type Reasoner interface {
	EvaluateStructured(ctx context.Context, req ReasoningRequest) ([]byte, error)
}

// #endregion interfaces

// #region request

// PolicyContext is one retrieved policy as presented to the reasoning step.
type PolicyContext struct {
	Index      int     `json:"index"` // 1-based, referenced back by the result
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

// ReasoningRequest is the structured input to a Reasoner.
type ReasoningRequest struct {
	Instructions string          `json:"instructions"`
	Prompt       string          `json:"prompt"`
	Policies     []PolicyContext `json:"policies"`
	SchemaName   string          `json:"schema_name"`
	Schema       json.RawMessage `json:"schema"`
}

// #endregion request

// #region transient

// ErrTransient marks a provider failure worth retrying (rate limit, unavailable, timeout).
var ErrTransient = errors.New("transient provider error")

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() []error { return []error{ErrTransient, e.err} }

// Transient wraps err so errors.Is(err, ErrTransient) holds while the cause stays inspectable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transientf formats a transient error.
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

// #endregion transient
