package model

import (
	"github.com/shopspring/decimal"
)

// TotalsTolerance is the accepted gap between excl. VAT + VAT and incl. VAT
var TotalsTolerance = decimal.RequireFromString("0.01")

// DefaultCurrency for French invoices
const DefaultCurrency = "EUR"

// Party identifies a supplier or buyer on an invoice
type Party struct {
	Name      string `json:"name,omitempty"`
	Address   string `json:"address,omitempty"`
	SIRET     string `json:"siret,omitempty"`
	VATNumber string `json:"vat_number,omitempty"`
}

// IsEmpty returns true when no party field was extracted
func (p Party) IsEmpty() bool {
	return p.Name == "" && p.Address == "" && p.SIRET == "" && p.VATNumber == ""
}

// LineItem represents a single invoice line
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATRate     float64         `json:"vat_rate"` // percent, e.g. 20 or 5.5
}

// AmountExclVAT computes quantity * unit price, rounded to cents
func (l LineItem) AmountExclVAT() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice).Round(2)
}

// ExtractedInvoiceData is the canonical invoice record.
//
// Every field is optional: partially extracted data must stay representable
// so it can be corrected before validation. Which fields are mandatory is a
// compliance policy, not a structural constraint.
type ExtractedInvoiceData struct {
	InvoiceNumber string `json:"invoice_number,omitempty"`
	InvoiceDate   string `json:"invoice_date,omitempty"` // DD/MM/YYYY
	DueDate       string `json:"due_date,omitempty"`     // DD/MM/YYYY

	Supplier Party `json:"supplier"`
	Buyer    Party `json:"buyer"`

	TotalExclVAT *decimal.Decimal `json:"total_excl_vat,omitempty"`
	VATAmount    *decimal.Decimal `json:"vat_amount,omitempty"`
	TotalInclVAT *decimal.Decimal `json:"total_incl_vat,omitempty"`
	Currency     string           `json:"currency,omitempty"`

	PaymentTerms *int `json:"payment_terms,omitempty"` // days

	LineItems []LineItem `json:"line_items,omitempty"`

	Confidence       float64  `json:"confidence"`
	ExtractionIssues []string `json:"extraction_issues,omitempty"`
}

// HasAllTotals reports whether the three monetary totals are present
func (inv *ExtractedInvoiceData) HasAllTotals() bool {
	return inv.TotalExclVAT != nil && inv.VATAmount != nil && inv.TotalInclVAT != nil
}

// TotalsConsistent checks excl. VAT + VAT ≈ incl. VAT within TotalsTolerance.
// Returns true when any total is missing, since there is nothing to compare.
func (inv *ExtractedInvoiceData) TotalsConsistent() bool {
	if !inv.HasAllTotals() {
		return true
	}
	expected := inv.TotalExclVAT.Add(*inv.VATAmount)
	return expected.Sub(*inv.TotalInclVAT).Abs().LessThanOrEqual(TotalsTolerance)
}

// LineItemsTotal sums line amounts excluding VAT
func (inv *ExtractedInvoiceData) LineItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range inv.LineItems {
		total = total.Add(item.AmountExclVAT())
	}
	return total
}

// CurrencyOrDefault returns the currency code, falling back to EUR
func (inv *ExtractedInvoiceData) CurrencyOrDefault() string {
	if inv.Currency == "" {
		return DefaultCurrency
	}
	return inv.Currency
}

// AddIssue records a free-text extraction issue
func (inv *ExtractedInvoiceData) AddIssue(issue string) {
	inv.ExtractionIssues = append(inv.ExtractionIssues, issue)
}

// Clone returns a deep copy so callers can correct data without touching the original
func (inv *ExtractedInvoiceData) Clone() *ExtractedInvoiceData {
	if inv == nil {
		return nil
	}
	out := *inv
	out.TotalExclVAT = cloneDecimal(inv.TotalExclVAT)
	out.VATAmount = cloneDecimal(inv.VATAmount)
	out.TotalInclVAT = cloneDecimal(inv.TotalInclVAT)
	if inv.PaymentTerms != nil {
		days := *inv.PaymentTerms
		out.PaymentTerms = &days
	}
	if inv.LineItems != nil {
		out.LineItems = append([]LineItem(nil), inv.LineItems...)
	}
	if inv.ExtractionIssues != nil {
		out.ExtractionIssues = append([]string(nil), inv.ExtractionIssues...)
	}
	return &out
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

// Amount is a helper to build optional totals
func Amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// Days is a helper to build optional payment terms
func Days(n int) *int {
	return &n
}
