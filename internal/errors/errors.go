package errors

import (
	stderrors "errors"
	"fmt"
)

// MemError is the structured error returned across package boundaries.
type MemError struct {
	// Code is the unique error code, e.g. "ERR_503_SEARCH_FAILED".
	Code string

	Message  string
	Category Category
	Severity Severity

	// Details carries extra context such as the backend or query type.
	Details map[string]string

	Cause     error
	Retryable bool

	// Suggestion is shown to CLI users under the message.
	Suggestion string
}

func (e *MemError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *MemError) Unwrap() error {
	return e.Cause
}

// Is matches another *MemError by code, so errors.Is works on sentinels
// built with New(code, "", nil).
func (e *MemError) Is(target error) bool {
	if t, ok := target.(*MemError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail and returns the receiver.
func (e *MemError) WithDetail(key, value string) *MemError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets a user-facing hint and returns the receiver.
func (e *MemError) WithSuggestion(suggestion string) *MemError {
	e.Suggestion = suggestion
	return e
}

// New creates a MemError. Category, severity and retryability derive from code.
func New(code string, message string, cause error) *MemError {
	return &MemError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap turns err into a MemError carrying err's message. Returns nil for nil.
func Wrap(code string, err error) *MemError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

func ConfigError(message string, cause error) *MemError {
	return New(ErrCodeConfigInvalid, message, cause)
}

func StorageError(message string, cause error) *MemError {
	return New(ErrCodeDataDir, message, cause)
}

func ValidationError(message string, cause error) *MemError {
	return New(ErrCodeInvalidInput, message, cause)
}

func SearchError(message string, cause error) *MemError {
	return New(ErrCodeSearchFailed, message, cause)
}

func InternalError(message string, cause error) *MemError {
	return New(ErrCodeInternal, message, cause)
}

// As finds the first MemError in err's chain.
func As(err error) (*MemError, bool) {
	var me *MemError
	if stderrors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// IsRetryable reports whether any MemError in the chain is retryable.
func IsRetryable(err error) bool {
	if me, ok := As(err); ok {
		return me.Retryable
	}
	return false
}

// GetCode returns the code of the first MemError in err's chain, or "".
func GetCode(err error) string {
	if me, ok := As(err); ok {
		return me.Code
	}
	return ""
}
