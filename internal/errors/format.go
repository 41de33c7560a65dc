package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForCLI renders err for terminal output with its hint and code.
// Plain errors are reported as ERR_501_INTERNAL.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	me, ok := As(err)
	if !ok {
		me = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", me.Message)
	if me.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", me.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", me.Code)
	return sb.String()
}

type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns the machine-readable form used by `--format json`
// and by MCP tool errors.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	me, ok := As(err)
	if !ok {
		me = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       me.Code,
		Message:    me.Message,
		Category:   string(me.Category),
		Severity:   string(me.Severity),
		Details:    me.Details,
		Suggestion: me.Suggestion,
		Retryable:  me.Retryable,
	}
	if me.Cause != nil {
		je.Cause = me.Cause.Error()
	}
	return json.Marshal(je)
}

// LogAttrs flattens err into slog key-value pairs.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}
	me, ok := As(err)
	if !ok {
		return []any{"error", err.Error()}
	}

	attrs := []any{
		"error_code", me.Code,
		"error", me.Message,
		"retryable", me.Retryable,
	}
	if me.Cause != nil {
		attrs = append(attrs, "cause", me.Cause.Error())
	}
	for k, v := range me.Details {
		attrs = append(attrs, "detail_"+k, v)
	}
	return attrs
}
