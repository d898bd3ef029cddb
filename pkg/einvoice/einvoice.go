// Package einvoice provides a public API for checking French e-invoices and
// tracking their lifecycle.
//
// It exposes the canonical invoice record, the compliance scoring rules for
// SIRET, VAT numbers, dates, payment terms and totals, and the invoice status
// machine used before and after transmission to Chorus Pro or PEPPOL.
//
// Example usage:
//
//	proc := einvoice.NewDefaultProcessor()
//	verdict, err := proc.Validate(ctx, file)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(verdict.Score, verdict.IsCompliant)
package einvoice

import (
	"github.com/rezonia/facturx-gateway/internal/model"
	"github.com/rezonia/facturx-gateway/internal/tracker"
	"github.com/rezonia/facturx-gateway/internal/validator"
)

// Re-export core types for public API
type (
	Invoice           = model.ExtractedInvoiceData
	LineItem          = model.LineItem
	Party             = model.Party
	ValidationResult  = model.ValidationResult
	ComplianceVerdict = model.ComplianceVerdict
	Severity          = model.Severity
	InvoiceStatus     = model.InvoiceStatus
	TrackingData      = model.InvoiceTrackingData
	Provider          = model.Provider
	TrackingInfo      = model.TrackingInfo
	Tracker           = tracker.Tracker
	Profile           = validator.Profile
	Category          = validator.Category
)

// Re-export severities
const (
	SeverityError   = model.SeverityError
	SeverityWarning = model.SeverityWarning
	SeverityInfo    = model.SeverityInfo
)

// Re-export invoice statuses
const (
	StatusDraft     = model.StatusDraft
	StatusExtracted = model.StatusExtracted
	StatusValidated = model.StatusValidated
	StatusCompliant = model.StatusCompliant
	StatusExported  = model.StatusExported
	StatusSent      = model.StatusSent
	StatusReceived  = model.StatusReceived
	StatusPaid      = model.StatusPaid
	StatusArchived  = model.StatusArchived
	StatusError     = model.StatusError
	StatusRejected  = model.StatusRejected
)

// Re-export providers
const (
	ProviderChorusPro     = model.ProviderChorusPro
	ProviderPeppol        = model.ProviderPeppol
	ProviderCustomPartner = model.ProviderCustomPartner
)

// Re-export categories
const (
	CategoryB2B = validator.CategoryB2B
	CategoryB2G = validator.CategoryB2G
)

// Re-export error types
type (
	ParseError             = model.ParseError
	ValidationError        = model.ValidationError
	ExtractionError        = model.ExtractionError
	InvalidTransitionError = model.InvalidTransitionError
)

// Strict enforces SIRET, SIREN and VAT check digits
func Strict() Profile { return validator.Strict() }

// Lenient checks identifier format only
func Lenient() Profile { return validator.Lenient() }

// IsValidSIRET reports whether s is a 14-digit SIRET with a valid check digit
func IsValidSIRET(s string) bool { return validator.IsValidSIRET(s) }

// IsValidVATNumber reports whether s is a French intra-community VAT number
// whose key matches its SIREN
func IsValidVATNumber(s string) bool { return validator.IsValidVATNumber(s) }

// SuggestVATNumber derives the intra-community VAT number of a SIREN
func SuggestVATNumber(siren string) (string, bool) { return validator.SuggestVATNumber(siren) }

// NewTracker starts the lifecycle of an invoice in draft status
func NewTracker(id string) *Tracker { return tracker.New(id) }

// CanTransition reports whether the status machine allows from -> to
func CanTransition(from, to InvoiceStatus) bool { return tracker.CanTransition(from, to) }
