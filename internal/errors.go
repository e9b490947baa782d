package internal

import (
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents the failure taxonomy of the resolution engine
type ErrorType int

const (
	ErrInvalidInputFormat ErrorType = iota
	ErrMissingExtractedField
	ErrDecodeFailure
	ErrUpstreamNotOk
	ErrTransport
	ErrUnsupportedService
	ErrInvalidConfig
	ErrDownloadFailed
	ErrResumeDataCorrupted
)

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// ResolveError carries a classified failure together with the diagnostic
// context needed to operate against drifting upstream pages.
type ResolveError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Field      string                 `json:"field,omitempty"`
	Severity   ErrorSeverity          `json:"severity"`
	URL        string                 `json:"url,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *ResolveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying cause
func (e *ResolveError) Unwrap() error {
	return e.Err
}

// DetailedError returns a detailed error message with all available information
func (e *ResolveError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s Error", e.Severity.String(), e.Type.String()))
	parts = append(parts, fmt.Sprintf("Message: %s", e.Error()))

	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("Field: %s", e.Field))
	}

	// URLs are redacted, share passwords and gate tokens live in the query
	if e.URL != "" {
		parts = append(parts, fmt.Sprintf("URL: %s", redactSensitiveURL(e.URL)))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// String returns the string representation of ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrInvalidInputFormat:
		return "InvalidInputFormat"
	case ErrMissingExtractedField:
		return "MissingExtractedField"
	case ErrDecodeFailure:
		return "DecodeFailure"
	case ErrUpstreamNotOk:
		return "UpstreamNotOk"
	case ErrTransport:
		return "TransportError"
	case ErrUnsupportedService:
		return "UnsupportedService"
	case ErrInvalidConfig:
		return "InvalidConfig"
	case ErrDownloadFailed:
		return "DownloadFailed"
	case ErrResumeDataCorrupted:
		return "ResumeDataCorrupted"
	default:
		return "Unknown"
	}
}

// String returns the string representation of ErrorSeverity
func (es ErrorSeverity) String() string {
	switch es {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// NewResolveError creates a new ResolveError with the default severity and
// suggestion for its type
func NewResolveError(errorType ErrorType, message string) *ResolveError {
	return &ResolveError{
		Type:       errorType,
		Message:    message,
		Severity:   getDefaultSeverity(errorType),
		Suggestion: getDefaultSuggestion(errorType),
		Context:    make(map[string]interface{}),
	}
}

// WithSuggestion replaces the default suggestion
func (e *ResolveError) WithSuggestion(suggestion string) *ResolveError {
	e.Suggestion = suggestion
	return e
}

// WithURL adds URL context to the error (will be redacted in logs)
func (e *ResolveError) WithURL(url string) *ResolveError {
	e.URL = url
	return e
}

// WithCause records the underlying error
func (e *ResolveError) WithCause(err error) *ResolveError {
	e.Err = err
	return e
}

// WithContext adds context information to the error
func (e *ResolveError) WithContext(key string, value interface{}) *ResolveError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// ValidationError represents configuration and CLI input validation errors
type ValidationError struct {
	Field      string                 `json:"field"`
	Message    string                 `json:"message"`
	Value      interface{}            `json:"value,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	parts := []string{fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, " - ")
}

// DetailedError returns a detailed validation error message
func (e *ValidationError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Validation Error for field '%s'", e.Field))
	parts = append(parts, fmt.Sprintf("Message: %s", e.Message))

	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("Provided value: %v", e.Value))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		sort.Strings(contextParts)
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewValidationErrorWithValue creates a ValidationError with the invalid value
func NewValidationErrorWithValue(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
		Context: make(map[string]interface{}),
	}
}

// WithSuggestion adds a suggestion to the validation error
func (e *ValidationError) WithSuggestion(suggestion string) *ValidationError {
	e.Suggestion = suggestion
	return e
}

// WithContext adds context to the validation error
func (e *ValidationError) WithContext(key string, value interface{}) *ValidationError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func getDefaultSuggestion(errorType ErrorType) string {
	switch errorType {
	case ErrInvalidInputFormat:
		return "Check that the link was copied completely, including the path after the domain"
	case ErrMissingExtractedField:
		return "The provider page layout may have changed; inspect the diagnostic snippet"
	case ErrDecodeFailure:
		return "The provider returned a token in an unexpected encoding"
	case ErrUpstreamNotOk:
		return "The link may be invalid or expired. Try again later"
	case ErrTransport:
		return "Check your internet connection and try again. Consider using a proxy if needed"
	case ErrUnsupportedService:
		return "Run 'linkfetch providers' to list the supported services"
	case ErrInvalidConfig:
		return "Check the configuration file and LINKFETCH_* environment variables"
	case ErrDownloadFailed:
		return "Download failed. Check available disk space and network connection"
	case ErrResumeDataCorrupted:
		return "Delete the .linkfetch.json file and restart the download"
	default:
		return "Please check the error details and try again"
	}
}

func getDefaultSeverity(errorType ErrorType) ErrorSeverity {
	switch errorType {
	case ErrTransport:
		return SeverityWarning
	case ErrInvalidConfig:
		return SeverityCritical
	default:
		return SeverityError
	}
}

// redactSensitiveURL drops the query string of a URL
func redactSensitiveURL(url string) string {
	if i := strings.Index(url, "?"); i >= 0 {
		return url[:i] + "?[REDACTED]"
	}
	return url
}

// NewInvalidInputError creates an error for input that does not match a
// provider's expected shape
func NewInvalidInputError(url, message string) *ResolveError {
	return NewResolveError(ErrInvalidInputFormat, message).WithURL(url)
}

// NewMissingFieldError creates an error naming the field that could not be
// located in an upstream response
func NewMissingFieldError(field, message string) *ResolveError {
	err := NewResolveError(ErrMissingExtractedField, message)
	err.Field = field
	return err
}

// NewDecodeError creates an error for a token that failed to decode
func NewDecodeError(message string, cause error) *ResolveError {
	return NewResolveError(ErrDecodeFailure, message).WithCause(cause)
}

// NewUpstreamNotOkError creates an error for an upstream API that answered
// but signalled failure
func NewUpstreamNotOkError(message string) *ResolveError {
	return NewResolveError(ErrUpstreamNotOk, message)
}

// NewTransportError wraps a network, timeout or connection failure
func NewTransportError(operation string, cause error) *ResolveError {
	return NewResolveError(ErrTransport, operation).WithCause(cause)
}

// NewUnsupportedServiceError names the supported provider set
func NewUnsupportedServiceError(supported []string) *ResolveError {
	msg := "Unsupported URL service."
	if len(supported) > 0 {
		msg = fmt.Sprintf("Unsupported URL service. Supported: %s.", joinNames(supported))
	}
	return NewResolveError(ErrUnsupportedService, msg)
}

// NewDownloadError creates an error for a failed segment or file transfer
func NewDownloadError(message string, cause error) *ResolveError {
	return NewResolveError(ErrDownloadFailed, message).WithCause(cause)
}

// NewResumeDataCorruptedError creates an error for corrupted resume metadata
func NewResumeDataCorruptedError(path string, reason string) *ResolveError {
	return NewResolveError(ErrResumeDataCorrupted, fmt.Sprintf("Resume metadata corrupted: %s", reason)).
		WithContext("metadata_path", path)
}

// joinNames renders "A, B, and C"
func joinNames(names []string) string {
	switch len(names) {
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1]
	}
}
