package internal

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARN"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LogLevelError:
		return zerolog.ErrorLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// SecureLogger is a leveled zerolog logger that scrubs cookies, CSRF tokens
// and credential-bearing query parameters from every message.
type SecureLogger struct {
	logger    zerolog.Logger
	level     LogLevel
	debug     bool
	quiet     bool
	redactors []Redactor
}

// Redactor defines an interface for redacting sensitive information
type Redactor interface {
	Redact(input string) string
}

// CookieRedactor redacts cookie and credential header values
type CookieRedactor struct{}

var cookiePatterns = []string{
	"XSRF-TOKEN=",
	"playertera_session=",
	"csrfToken=",
	"Cookie:",
	"Set-Cookie:",
	"Authorization:",
	"X-Api-Key:",
	"X-CSRF-Token:",
	"Bearer ",
}

func (r *CookieRedactor) Redact(input string) string {
	result := input
	for _, pattern := range cookiePatterns {
		result = redactAfter(result, pattern, " ;\n\r")
	}
	return result
}

// URLRedactor redacts sensitive URL parameters
type URLRedactor struct{}

var sensitiveParams = []string{
	"access_token=",
	"token=",
	"key=",
	"secret=",
	"password=",
	"pwd=",
	"sign=",
}

func (r *URLRedactor) Redact(input string) string {
	result := input
	for _, param := range sensitiveParams {
		result = redactAfter(result, param, "& \n\"")
	}
	return result
}

// redactAfter replaces every value following pattern, up to the first
// terminator byte, with [REDACTED]. Matching is case-insensitive.
func redactAfter(input, pattern, terminators string) string {
	lowerPattern := strings.ToLower(pattern)
	result := input
	offset := 0
	for {
		index := strings.Index(strings.ToLower(result[offset:]), lowerPattern)
		if index == -1 {
			return result
		}
		start := offset + index + len(pattern)
		end := start
		for end < len(result) && !strings.ContainsRune(terminators, rune(result[end])) {
			end++
		}
		if end > start && !strings.HasPrefix(result[start:end], "[REDACTED]") {
			result = result[:start] + "[REDACTED]" + result[end:]
			end = start + len("[REDACTED]")
		}
		offset = end
	}
}

// NewSecureLogger creates a console-formatted secure logger
func NewSecureLogger(output io.Writer, level LogLevel, debug, quiet bool) *SecureLogger {
	return newSecureLogger(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339, NoColor: true}, level, debug, quiet)
}

// NewJSONLogger creates a secure logger emitting one JSON object per line
func NewJSONLogger(output io.Writer, level LogLevel, debug, quiet bool) *SecureLogger {
	return newSecureLogger(output, level, debug, quiet)
}

func newSecureLogger(output io.Writer, level LogLevel, debug, quiet bool) *SecureLogger {
	zerolog.TimeFieldFormat = time.RFC3339

	sl := &SecureLogger{
		level: level,
		debug: debug,
		quiet: quiet,
		redactors: []Redactor{
			&CookieRedactor{},
			&URLRedactor{},
		},
	}

	ctx := zerolog.New(output).With().Timestamp()
	if debug {
		ctx = ctx.CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 2)
	}
	sl.logger = ctx.Logger()
	sl.applyLevel()
	return sl
}

// NewDefaultLogger creates a logger with default settings
func NewDefaultLogger(debug, quiet bool) *SecureLogger {
	level := LogLevelInfo
	if debug {
		level = LogLevelDebug
	}
	if quiet {
		level = LogLevelError
	}

	return NewSecureLogger(os.Stderr, level, debug, quiet)
}

func (sl *SecureLogger) applyLevel() {
	sl.logger = sl.logger.Level(sl.effectiveLevel().zerolog())
}

func (sl *SecureLogger) effectiveLevel() LogLevel {
	if sl.quiet {
		return LogLevelError
	}
	return sl.level
}

// With returns a child logger carrying key=value on every entry
func (sl *SecureLogger) With(key string, value interface{}) *SecureLogger {
	child := *sl
	child.redactors = append([]Redactor(nil), sl.redactors...)
	child.logger = sl.logger.With().Str(key, sl.redactSensitiveData(fmt.Sprint(value))).Logger()
	return &child
}

// redactSensitiveData applies all redactors to the input string
func (sl *SecureLogger) redactSensitiveData(input string) string {
	result := input
	for _, redactor := range sl.redactors {
		result = redactor.Redact(result)
	}
	return result
}

func (sl *SecureLogger) emit(event *zerolog.Event, format string, args []interface{}) {
	if event == nil {
		return
	}
	event.Msg(sl.redactSensitiveData(fmt.Sprintf(format, args...)))
}

// Error logs an error message
func (sl *SecureLogger) Error(format string, args ...interface{}) {
	sl.emit(sl.logger.Error(), format, args)
}

// Warn logs a warning message
func (sl *SecureLogger) Warn(format string, args ...interface{}) {
	sl.emit(sl.logger.Warn(), format, args)
}

// Info logs an info message
func (sl *SecureLogger) Info(format string, args ...interface{}) {
	sl.emit(sl.logger.Info(), format, args)
}

// Debug logs a debug message
func (sl *SecureLogger) Debug(format string, args ...interface{}) {
	sl.emit(sl.logger.Debug(), format, args)
}

// DebugEnabled reports whether debug entries would be written
func (sl *SecureLogger) DebugEnabled() bool {
	return sl.effectiveLevel() >= LogLevelDebug
}

// LogHTTPRequest logs an HTTP request with sensitive data redacted
func (sl *SecureLogger) LogHTTPRequest(req *http.Request) {
	if !sl.DebugEnabled() {
		return
	}

	url := sl.redactSensitiveData(req.URL.String())
	sl.Debug("HTTP Request: %s %s Headers: %v", req.Method, url, sl.sanitizeHeaders(req.Header))
}

// LogHTTPResponse logs an HTTP response with sensitive data redacted
func (sl *SecureLogger) LogHTTPResponse(resp *http.Response) {
	if !sl.DebugEnabled() {
		return
	}

	sl.Debug("HTTP Response: %s Headers: %v", resp.Status, sl.sanitizeHeaders(resp.Header))
}

func (sl *SecureLogger) sanitizeHeaders(header http.Header) map[string]string {
	sanitized := make(map[string]string, len(header))
	for name, values := range header {
		if isSensitiveHeader(name) {
			sanitized[name] = "[REDACTED]"
		} else {
			sanitized[name] = strings.Join(values, ", ")
		}
	}
	return sanitized
}

// isSensitiveHeader checks if a header contains sensitive information
func isSensitiveHeader(name string) bool {
	sensitiveHeaders := []string{
		"authorization",
		"cookie",
		"x-api-key",
		"csrf",
		"token",
	}

	lowerName := strings.ToLower(name)
	for _, sensitive := range sensitiveHeaders {
		if strings.Contains(lowerName, sensitive) {
			return true
		}
	}
	return false
}

// SetQuiet enables or disables quiet mode
func (sl *SecureLogger) SetQuiet(quiet bool) {
	sl.quiet = quiet
	sl.applyLevel()
}
