package failure

import (
	"errors"
	"fmt"
)

// #region kind

// Kind classifies why an operation could not produce a result.
type Kind string

const (
	KindValidation Kind = "validation"
	KindEmbedding  Kind = "embedding_failure"
	KindMalformed  Kind = "malformed_response"
	KindReasoning  Kind = "reasoning_provider_failure"
	KindEvaluation Kind = "evaluation_failure"
	KindStorage    Kind = "storage_failure"
)

// #endregion kind

// #region error

// Error is a typed failure carrying its kind, the operation that failed and the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrMalformed) walks the whole chain.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// #endregion error

// #region sentinels

var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrEmbedding  = &Error{Kind: KindEmbedding}
	ErrMalformed  = &Error{Kind: KindMalformed}
	ErrReasoning  = &Error{Kind: KindReasoning}
	ErrEvaluation = &Error{Kind: KindEvaluation}
	ErrStorage    = &Error{Kind: KindStorage}
)

// #endregion sentinels

// #region constructors

// New wraps err as a failure of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation reports bad caller input. Never retried.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// Embedding reports an embedding provider failure.
func Embedding(op string, err error) *Error {
	return New(KindEmbedding, op, err)
}

// Malformed reports reasoning output that does not fit the expected schema.
func Malformed(op string, err error) *Error {
	return New(KindMalformed, op, err)
}

// Evaluation reports that the reasoning step could not complete; cause is a
// malformed response or a reasoning provider failure.
func Evaluation(op string, cause error) *Error {
	return New(KindEvaluation, op, cause)
}

// Storage reports a policy store failure.
func Storage(op string, err error) *Error {
	return New(KindStorage, op, err)
}

// #endregion constructors

// #region inspection

// KindOf returns the outermost failure kind in err's chain, or "" if none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsCallerError reports whether err was caused by invalid caller input rather
// than the system failing to complete the check.
func IsCallerError(err error) bool {
	return KindOf(err) == KindValidation
}

// #endregion inspection
