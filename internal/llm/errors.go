package llm

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorKind is the closed error classification set. These
// are the only categories surfaced to the caller.
type ErrorKind string

const (
	ErrorKindAuthentication   ErrorKind = "authentication"
	ErrorKindRateLimit        ErrorKind = "rate_limit"
	ErrorKindToolChoiceConfig ErrorKind = "tool_choice_config"
	ErrorKindModelNotFound    ErrorKind = "model_not_found"
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindConnection       ErrorKind = "connection"
	ErrorKindUnknown          ErrorKind = "unknown"
)

// CallError wraps a classified failure from a provider call.
type CallError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *CallError) Error() string {
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Cause.Error()
	}
	return string(e.Kind)
}

func (e *CallError) Unwrap() error { return e.Cause }

// Classify inspects an HTTP status code and/or a raw provider error
// message and returns the matching ErrorKind.
func Classify(statusCode int, message string, cause error) ErrorKind {
	lower := strings.ToLower(message)

	if cause != nil {
		if errors.Is(cause, context.DeadlineExceeded) {
			return ErrorKindTimeout
		}
		var netErr net.Error
		if errors.As(cause, &netErr) && netErr.Timeout() {
			return ErrorKindTimeout
		}
	}

	switch {
	case strings.Contains(lower, "tool choice") && strings.Contains(lower, "required"):
		return ErrorKindToolChoiceConfig
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return ErrorKindTimeout
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests") || statusCode == 429:
		return ErrorKindRateLimit
	case strings.Contains(lower, "model") && (strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist")):
		return ErrorKindModelNotFound
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key") || statusCode == 401 || statusCode == 403:
		return ErrorKindAuthentication
	}

	switch statusCode {
	case 401, 403:
		return ErrorKindAuthentication
	case 404:
		return ErrorKindModelNotFound
	case 429:
		return ErrorKindRateLimit
	case 0:
		if cause != nil {
			return ErrorKindConnection
		}
	}
	if statusCode >= 500 {
		return ErrorKindConnection
	}

	return ErrorKindUnknown
}

// isToolChoiceRequiredError matches the provider 400 "Tool choice
// 'required' must be specified with 'tools' parameter".
func isToolChoiceRequiredError(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "tool choice") && strings.Contains(lower, "required") && strings.Contains(lower, "tools")
}

// isReasoningNotSupportedError matches "reasoning_level not
// supported" on an o-series model.
func isReasoningNotSupportedError(message string) bool {
	return strings.Contains(strings.ToLower(message), "reasoning_level not supported") ||
		strings.Contains(strings.ToLower(message), "reasoning.effort")
}

// isImageDownloadError matches "Error while downloading <url>" so the
// adapter's image-replacement loop knows to splice in a
// data: URL or drop the offending image.
func isImageDownloadError(message string) (url string, matched bool) {
	const marker = "error while downloading "
	lower := strings.ToLower(message)
	idx := strings.Index(lower, marker)
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimSpace(message[idx+len(marker):])
	// The URL is typically the remainder of the message, possibly
	// followed by punctuation; take the first whitespace-delimited
	// token.
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", false
	}
	return strings.Trim(fields[0], ".,;:"), true
}
