package model

import "fmt"

// Error codes attached to transmission results
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeAuthentication = "AUTHENTICATION_ERROR"
	ErrCodeProvider       = "PROVIDER_ERROR"
	ErrCodeNetwork        = "NETWORK_ERROR"
	ErrCodeRules          = "RULES_VIOLATION"
	ErrCodeRecipient      = "RECIPIENT_UNSUPPORTED"
	ErrCodeCertificate    = "CERTIFICATE_ERROR"
)

// ParseError represents parsing errors with source format context
type ParseError struct {
	Format  string
	Field   string
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Format, e.Field, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Format, e.Field, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// NewParseError creates a new parse error
func NewParseError(format, field, message string, cause error) *ParseError {
	return &ParseError{
		Format:  format,
		Field:   field,
		Message: message,
		Cause:   cause,
	}
}

// ValidationError represents a malformed transmission request. It is raised
// before any network call is attempted.
type ValidationError struct {
	Field   string
	Value   interface{}
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed on %s: %s (value=%v, rule=%s)", e.Field, e.Message, e.Value, e.Rule)
	}
	return fmt.Sprintf("validation failed on %s: %s (rule=%s)", e.Field, e.Message, e.Rule)
}

// NewValidationError creates a new validation error
func NewValidationError(field string, value interface{}, rule, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Rule:    rule,
		Message: message,
	}
}

// ExtractionError represents extraction failures
type ExtractionError struct {
	Method  string
	Message string
	Cause   error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("extraction failed [%s]: %s (%v)", e.Method, e.Message, e.Cause)
	}
	return fmt.Sprintf("extraction failed [%s]: %s", e.Method, e.Message)
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

// NewExtractionError creates a new extraction error
func NewExtractionError(method, message string, cause error) *ExtractionError {
	return &ExtractionError{
		Method:  method,
		Message: message,
		Cause:   cause,
	}
}

// AuthenticationError means a provider token could not be obtained
type AuthenticationError struct {
	Provider Provider
	Message  string
	Cause    error
}

func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] authentication failed: %s (%v)", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] authentication failed: %s", e.Provider, e.Message)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Cause
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(provider Provider, message string, cause error) *AuthenticationError {
	return &AuthenticationError{
		Provider: provider,
		Message:  message,
		Cause:    cause,
	}
}

// ProviderError wraps a non-2xx response from a transmission network
type ProviderError struct {
	Provider   Provider
	StatusCode int
	Code       string
	Message    string
	Field      string
	Severity   Severity
}

func (e *ProviderError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] HTTP %d %s on %s: %s", e.Provider, e.StatusCode, e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] HTTP %d %s: %s", e.Provider, e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether the failure is transient
func (e *ProviderError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// TransmissionError converts the provider error into result data
func (e *ProviderError) TransmissionError() TransmissionError {
	severity := e.Severity
	if severity == "" {
		severity = SeverityError
	}
	code := e.Code
	if code == "" {
		code = ErrCodeProvider
	}
	return TransmissionError{
		Code:     code,
		Message:  e.Message,
		Field:    e.Field,
		Severity: severity,
	}
}

// NewProviderError creates a new provider error
func NewProviderError(provider Provider, statusCode int, code, message string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Severity:   SeverityError,
	}
}

// InvalidTransitionError is returned when a lifecycle change is not allowed
// from the current status.
type InvalidTransitionError struct {
	InvoiceID string
	From      InvoiceStatus
	To        InvoiceStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for invoice %s: %s -> %s", e.InvoiceID, e.From, e.To)
}

// NewInvalidTransitionError creates a new invalid transition error
func NewInvalidTransitionError(invoiceID string, from, to InvoiceStatus) *InvalidTransitionError {
	return &InvalidTransitionError{
		InvoiceID: invoiceID,
		From:      from,
		To:        to,
	}
}
