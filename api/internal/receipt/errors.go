package receipt

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed analysis.
type Kind string

const (
	KindMethodNotAllowed        Kind = "method_not_allowed"
	KindMissingFields           Kind = "missing_fields"
	KindInvalidImageFormat      Kind = "invalid_image_format"
	KindUnsupportedImageFormat  Kind = "unsupported_image_format"
	KindUpstream                Kind = "upstream_error"
	KindUnexpectedUpstreamShape Kind = "unexpected_upstream_shape"
	KindExtractionFailure       Kind = "extraction_failure"
	KindParseFailure            Kind = "parse_failure"
	KindInternal                Kind = "internal_error"
)

// Error is the only error shape that leaves the pipeline. Status is the HTTP status to answer with.
type Error struct {
	Kind       Kind
	Status     int
	Message    string
	Details    *string
	RawContent *string
	ParseError string

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can compare against the sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrMethodNotAllowed = &Error{
		Kind:    KindMethodNotAllowed,
		Status:  http.StatusMethodNotAllowed,
		Message: "Method not allowed",
	}
	ErrMissingFields = &Error{
		Kind:    KindMissingFields,
		Status:  http.StatusBadRequest,
		Message: "APIキーまたは画像データが不足しています",
	}
	ErrInvalidImageFormat = &Error{
		Kind:    KindInvalidImageFormat,
		Status:  http.StatusBadRequest,
		Message: "Invalid image format",
	}
	ErrUnsupportedImageFormat = &Error{
		Kind:    KindUnsupportedImageFormat,
		Status:  http.StatusBadRequest,
		Message: "Unsupported image format. Please use PNG, JPEG, GIF, or WEBP.",
	}
	ErrUnexpectedUpstreamShape = &Error{
		Kind:    KindUnexpectedUpstreamShape,
		Status:  http.StatusInternalServerError,
		Message: "予期しないAPIレスポンス形式",
	}
)

// UpstreamError passes the provider's status and raw body through to the caller.
func UpstreamError(provider string, status int, body string) *Error {
	return &Error{
		Kind:    KindUpstream,
		Status:  status,
		Message: fmt.Sprintf("%s API Error: %d", provider, status),
		Details: &body,
	}
}

// ExtractionFailure reports a reply without any array-shaped span.
func ExtractionFailure(content string) *Error {
	return &Error{
		Kind:       KindExtractionFailure,
		Status:     http.StatusInternalServerError,
		Message:    "JSONデータが見つかりません",
		RawContent: &content,
	}
}

// ParseFailure reports an array-shaped span that is not valid JSON.
func ParseFailure(content string, err error) *Error {
	return &Error{
		Kind:       KindParseFailure,
		Status:     http.StatusInternalServerError,
		Message:    "JSON解析エラー",
		RawContent: &content,
		ParseError: err.Error(),
		Err:        err,
	}
}

// Internal wraps anything that was not classified closer to its source.
func Internal(err error) *Error {
	details := err.Error()
	return &Error{
		Kind:    KindInternal,
		Status:  http.StatusInternalServerError,
		Message: "サーバー内部エラー",
		Details: &details,
		Err:     err,
	}
}

// Classify returns err as *Error, converting unknown errors to an internal error.
func Classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
