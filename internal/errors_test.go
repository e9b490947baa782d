package internal

import (
	"errors"
	"strings"
	"testing"
)

func TestResolveError_Error(t *testing.T) {
	err := NewMissingFieldError("_csrfToken", "Could not extract CSRF token")

	if err.Error() != "Could not extract CSRF token" {
		t.Errorf("Error() = %q", err.Error())
	}
	if err.Field != "_csrfToken" {
		t.Errorf("Field = %q, want _csrfToken", err.Field)
	}
	if err.Type != ErrMissingExtractedField {
		t.Errorf("Type = %v, want MissingExtractedField", err.Type)
	}
}

func TestResolveError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewTransportError("GET https://inshorturl.in/abc", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Error() should include the cause, got %q", err.Error())
	}

	var target *ResolveError
	if !errors.As(error(err), &target) {
		t.Fatal("errors.As should match *ResolveError")
	}
	if target.Severity != SeverityWarning {
		t.Errorf("transport severity = %v, want WARNING", target.Severity)
	}
}

func TestResolveError_DetailedError(t *testing.T) {
	err := NewUpstreamNotOkError("Failed to get file info").
		WithURL("https://www.terabox.com/s/1abc?pwd=secret").
		WithContext("step", "metadata").
		WithContext("attempt", 1)

	result := err.DetailedError()

	checks := []string{
		"[ERROR] UpstreamNotOk Error",
		"Failed to get file info",
		"attempt=1, step=metadata",
		"Suggestion:",
		"terabox.com/s/1abc",
	}
	for _, want := range checks {
		if !strings.Contains(result, want) {
			t.Errorf("DetailedError() missing %q:\n%s", want, result)
		}
	}
	if strings.Contains(result, "secret") {
		t.Errorf("DetailedError() leaked the query string:\n%s", result)
	}
}

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		expected  string
	}{
		{ErrInvalidInputFormat, "InvalidInputFormat"},
		{ErrMissingExtractedField, "MissingExtractedField"},
		{ErrDecodeFailure, "DecodeFailure"},
		{ErrUpstreamNotOk, "UpstreamNotOk"},
		{ErrTransport, "TransportError"},
		{ErrUnsupportedService, "UnsupportedService"},
		{ErrResumeDataCorrupted, "ResumeDataCorrupted"},
		{ErrorType(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.errorType.String(); got != tt.expected {
				t.Errorf("String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestNewUnsupportedServiceError(t *testing.T) {
	tests := []struct {
		name      string
		supported []string
		expected  string
	}{
		{
			name:      "three_providers",
			supported: []string{"InShortURL", "SoftURL", "Terabox"},
			expected:  "Unsupported URL service. Supported: InShortURL, SoftURL, and Terabox.",
		},
		{
			name:      "two_providers",
			supported: []string{"InShortURL", "Terabox"},
			expected:  "Unsupported URL service. Supported: InShortURL and Terabox.",
		},
		{
			name:      "none",
			supported: nil,
			expected:  "Unsupported URL service.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewUnsupportedServiceError(tt.supported)
			if err.Error() != tt.expected {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.expected)
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationErrorWithValue("threads", "must be between 1 and 32", 64).
		WithSuggestion("Use -t 8").
		WithContext("flag", "-t")

	if !strings.Contains(err.Error(), "validation error for threads") {
		t.Errorf("Error() = %q", err.Error())
	}
	if !strings.Contains(err.Error(), "Use -t 8") {
		t.Errorf("Error() should include suggestion, got %q", err.Error())
	}

	detailed := err.DetailedError()
	for _, want := range []string{"Provided value: 64", "flag=-t", "Suggestion: Use -t 8"} {
		if !strings.Contains(detailed, want) {
			t.Errorf("DetailedError() missing %q:\n%s", want, detailed)
		}
	}
}
