package model

// Severity of a validation result
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ValidationResult is the outcome of one field or rule check.
// Created by the compliance engine and never mutated afterwards.
type ValidationResult struct {
	Field          string   `json:"field"`
	IsValid        bool     `json:"is_valid"`
	Severity       Severity `json:"severity"`
	Message        string   `json:"message"`
	SuggestedValue string   `json:"suggested_value,omitempty"`
}

// IsFailedError returns true for an invalid result with error severity
func (r ValidationResult) IsFailedError() bool {
	return !r.IsValid && r.Severity == SeverityError
}

// IsFailedWarning returns true for an invalid result with warning severity
func (r ValidationResult) IsFailedWarning() bool {
	return !r.IsValid && r.Severity == SeverityWarning
}

// ComplianceVerdict is derived from a single invoice snapshot and recomputed
// on every validation request.
type ComplianceVerdict struct {
	IsCompliant   bool               `json:"is_compliant"`
	Results       []ValidationResult `json:"results"`
	MissingFields []string           `json:"missing_fields"`
	Score         int                `json:"score"`
}

// ErrorCount returns the number of failed error-severity results
func (v ComplianceVerdict) ErrorCount() int {
	count := 0
	for _, r := range v.Results {
		if r.IsFailedError() {
			count++
		}
	}
	return count
}

// WarningCount returns the number of failed warning-severity results
func (v ComplianceVerdict) WarningCount() int {
	count := 0
	for _, r := range v.Results {
		if r.IsFailedWarning() {
			count++
		}
	}
	return count
}

// Errors returns the messages of failed error-severity results
func (v ComplianceVerdict) Errors() []string {
	var msgs []string
	for _, r := range v.Results {
		if r.IsFailedError() {
			msgs = append(msgs, r.Message)
		}
	}
	return msgs
}

// Warnings returns the messages of failed warning-severity results
func (v ComplianceVerdict) Warnings() []string {
	var msgs []string
	for _, r := range v.Results {
		if r.IsFailedWarning() {
			msgs = append(msgs, r.Message)
		}
	}
	return msgs
}
