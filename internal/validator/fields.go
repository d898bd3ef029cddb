package validator

import (
	"math"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	dec "github.com/rezonia/facturx-gateway/internal/decimal"
)

// FrenchDateLayout is the DD/MM/YYYY layout used on French invoices
const FrenchDateLayout = "02/01/2006"

// Category is the transaction category driving the payment-terms ceiling
type Category string

const (
	CategoryB2B Category = "B2B"
	CategoryB2G Category = "B2G"
)

// Payment-term ceilings in days
const (
	MaxPaymentDaysB2B = 60
	MaxPaymentDaysB2G = 30
)

// vatRateEpsilon absorbs rates computed as floats (e.g. 370/1850*100)
const vatRateEpsilon = 0.01

// StandardVATRates are the French VAT rates in percent
var StandardVATRates = []float64{0, 2.1, 5.5, 10, 20}

var (
	frenchDateRegex    = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)
	invoiceNumberRegex = regexp.MustCompile(`^[A-Za-z0-9/-]{1,20}$`)
)

// ParseCategory converts "b2b"/"b2g" (any case) into a Category
func ParseCategory(s string) (Category, bool) {
	switch s {
	case "B2B", "b2b", "":
		return CategoryB2B, true
	case "B2G", "b2g":
		return CategoryB2G, true
	}
	return "", false
}

// MaxPaymentDays returns the ceiling for the category
func (c Category) MaxPaymentDays() int {
	if c == CategoryB2G {
		return MaxPaymentDaysB2G
	}
	return MaxPaymentDaysB2B
}

// IsValidVATRate checks a percentage against the standard French rates
func IsValidVATRate(rate float64) bool {
	for _, r := range StandardVATRates {
		if math.Abs(rate-r) < vatRateEpsilon {
			return true
		}
	}
	return false
}

// ParseFrenchDate parses a strict DD/MM/YYYY date, rejecting impossible days
func ParseFrenchDate(s string) (time.Time, bool) {
	if !frenchDateRegex.MatchString(s) {
		return time.Time{}, false
	}
	t, err := time.Parse(FrenchDateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsValidFrenchDate reports whether s is a real DD/MM/YYYY date
func IsValidFrenchDate(s string) bool {
	_, ok := ParseFrenchDate(s)
	return ok
}

// IsValidPaymentTerms checks days against the category ceiling
func IsValidPaymentTerms(days int, category Category) bool {
	return days >= 0 && days <= category.MaxPaymentDays()
}

// IsValidAmount checks a monetary amount is non-negative with at most cents
func IsValidAmount(amount decimal.Decimal) bool {
	return dec.IsNonNegative(amount) && dec.HasAtMostCents(amount)
}

// IsValidAmountString parses and validates an amount given as text
func IsValidAmountString(s string) bool {
	d, err := dec.FromString(s)
	if err != nil {
		return false
	}
	return IsValidAmount(d)
}

// IsValidInvoiceNumber checks 1-20 alphanumeric, hyphen or slash characters
func IsValidInvoiceNumber(s string) bool {
	return invoiceNumberRegex.MatchString(s)
}
