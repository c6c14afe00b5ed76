// Package errors provides error classification and structured error reporting for
// the price feed. Errors are classified once, at the boundary where they occur, so
// that the refresh loop and the CLI can decide what to do with them without string
// matching: rate limits degrade a run, empty responses are data, and integrity
// failures (malformed payloads, unreadable datasets) terminate it.
//
// Nothing in this package retries. A record that could not be refreshed stays stale
// and is picked up again by the next invocation.
package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

// ErrorType represents the classification of an error
type ErrorType string

const (
	// Transient error types, absorbed by the gateway or the refresh loop
	ErrorTypeNetwork     ErrorType = "network"      // Network connectivity issues
	ErrorTypeTimeout     ErrorType = "timeout"      // Request timeout
	ErrorTypeRateLimit   ErrorType = "rate_limit"   // Rate limiting from the upstream API
	ErrorTypeServerError ErrorType = "server_error" // HTTP 5xx errors

	// Integrity error types, never absorbed
	ErrorTypeBadRequest    ErrorType = "bad_request"   // HTTP 4xx errors (except rate limit)
	ErrorTypeMalformed     ErrorType = "malformed"     // Payload that does not parse
	ErrorTypeConfiguration ErrorType = "configuration" // Configuration errors
	ErrorTypeStorage       ErrorType = "storage"       // Dataset or export I/O failures
	ErrorTypeCanceled      ErrorType = "canceled"      // Run interrupted by the operator

	// Special error types
	ErrorTypeUnknown ErrorType = "unknown" // Unclassified errors
)

// Sentinel errors matched with errors.Is.
var (
	ErrRateLimited = &ClassifiedError{Type: ErrorTypeRateLimit, Err: errors.New("rate limited")}
	ErrMalformed   = &ClassifiedError{Type: ErrorTypeMalformed, Err: errors.New("malformed response")}
)

// Severity represents the severity level of an error
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ClassifiedError represents an error with metadata for handling decisions
type ClassifiedError struct {
	Err       error          `json:"error"`
	Type      ErrorType      `json:"type"`
	Severity  Severity       `json:"severity"`
	Fatal     bool           `json:"fatal"`
	Component string         `json:"component"`
	Operation string         `json:"operation"`
	Context   map[string]any `json:"context"`
	Timestamp time.Time      `json:"timestamp"`
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Component == "" && ce.Operation == "" {
		return fmt.Sprintf("[%s] %v", ce.Type, ce.Err)
	}
	return fmt.Sprintf("[%s/%s] %s: %v", ce.Component, ce.Type, ce.Operation, ce.Err)
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Is checks if the error is of the specified type
func (ce *ClassifiedError) Is(target error) bool {
	if t, ok := target.(*ClassifiedError); ok {
		return ce.Type == t.Type
	}
	return errors.Is(ce.Err, target)
}

// With attaches a context value and returns the error for chaining.
func (ce *ClassifiedError) With(key string, value any) *ClassifiedError {
	if ce.Context == nil {
		ce.Context = make(map[string]any)
	}
	ce.Context[key] = value
	return ce
}

// LogValue implements slog.LogValuer.
func (ce *ClassifiedError) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("type", string(ce.Type)),
		slog.String("severity", ce.Severity.String()),
		slog.Bool("fatal", ce.Fatal),
		slog.String("component", ce.Component),
		slog.String("operation", ce.Operation),
		slog.String("error", fmt.Sprint(ce.Err)),
	}
	for k, v := range ce.Context {
		attrs = append(attrs, slog.Any(k, v))
	}
	return slog.GroupValue(attrs...)
}

// New creates a classified error of the given type.
func New(errorType ErrorType, component, operation string, err error) *ClassifiedError {
	return &ClassifiedError{
		Err:       err,
		Type:      errorType,
		Severity:  severityFor(errorType),
		Fatal:     isFatalType(errorType),
		Component: component,
		Operation: operation,
		Context:   make(map[string]any),
		Timestamp: time.Now(),
	}
}

// Classify returns err as a ClassifiedError, classifying it by content when it is
// not one already.
func Classify(err error, component, operation string) *ClassifiedError {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}
	return New(classifyErrorType(err), component, operation, err)
}

// classifyErrorType determines the error type based on the error content
func classifyErrorType(err error) ErrorType {
	if errors.Is(err, context.Canceled) {
		return ErrorTypeCanceled
	}

	// Timeout errors
	if isTimeoutError(err) {
		return ErrorTypeTimeout
	}

	// Network-related errors
	if isNetworkError(err) {
		return ErrorTypeNetwork
	}

	errStr := strings.ToLower(err.Error())

	// Rate limit errors (common patterns)
	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") {
		return ErrorTypeRateLimit
	}

	// Payload errors
	if strings.Contains(errStr, "malformed") ||
		strings.Contains(errStr, "invalid character") ||
		strings.Contains(errStr, "unexpected end of json") ||
		strings.Contains(errStr, "cannot unmarshal") {
		return ErrorTypeMalformed
	}

	// Configuration errors
	if strings.Contains(errStr, "config") {
		return ErrorTypeConfiguration
	}

	// Server errors (generic patterns)
	if strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "service unavailable") {
		return ErrorTypeServerError
	}

	return ErrorTypeUnknown
}

// isNetworkError checks if the error is network-related
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Check for common network error patterns
	errStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"no route to host",
		"host unreachable",
		"network unreachable",
		"no such host",
	}

	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// isTimeoutError checks if the error is timeout-related
func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

// severityFor assigns a severity level based on error type
func severityFor(errorType ErrorType) Severity {
	switch errorType {
	case ErrorTypeMalformed, ErrorTypeStorage:
		return SeverityCritical
	case ErrorTypeConfiguration:
		return SeverityHigh
	case ErrorTypeBadRequest, ErrorTypeServerError, ErrorTypeUnknown:
		return SeverityMedium
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeCanceled:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// isFatalType reports whether an error of this type must abort the run. Only rate
// limiting is absorbed by the refresh loop; everything else reaching it is fatal.
func isFatalType(errorType ErrorType) bool {
	return errorType != ErrorTypeRateLimit
}

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Fatal
	}
	return true
}

// IsRateLimit reports whether err signals upstream rate limiting.
func IsRateLimit(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsMalformed reports whether err signals an unparseable payload.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}

// IsTransient reports whether a request that failed with err may succeed when
// repeated unchanged: connection failures, timeouts and 5xx responses.
func IsTransient(err error) bool {
	switch GetErrorType(err) {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServerError:
		return true
	}
	return false
}

// GetErrorType extracts the error type from a classified error
func GetErrorType(err error) ErrorType {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ErrorTypeUnknown
}

// GetSeverity extracts the severity from a classified error
func GetSeverity(err error) Severity {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Severity
	}
	return SeverityMedium
}

// Process exit codes.
const (
	ExitSuccess     = 0
	ExitUsage       = 1
	ExitConfig      = 2
	ExitConnection  = 3
	ExitData        = 4
	ExitFailure     = 5
	ExitInterrupted = 130
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	switch GetErrorType(err) {
	case ErrorTypeCanceled:
		return ExitInterrupted
	case ErrorTypeConfiguration:
		return ExitConfig
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServerError, ErrorTypeBadRequest:
		return ExitConnection
	case ErrorTypeMalformed, ErrorTypeStorage:
		return ExitData
	default:
		if errors.Is(err, context.Canceled) {
			return ExitInterrupted
		}
		return ExitFailure
	}
}
