package compliance

import (
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"

	dec "github.com/rezonia/facturx-gateway/internal/decimal"
	"github.com/rezonia/facturx-gateway/internal/model"
	"github.com/rezonia/facturx-gateway/internal/validator"
)

// Engine scores invoices against French mandatory-field and consistency rules.
// An Engine has no mutable state and is safe for concurrent use.
type Engine struct {
	profile  validator.Profile
	category validator.Category
	policy   Policy
}

// EngineOption configures the engine
type EngineOption func(*Engine)

// WithProfile sets the identifier strictness profile
func WithProfile(p validator.Profile) EngineOption {
	return func(e *Engine) {
		e.profile = p
	}
}

// WithCategory sets the transaction category used for payment terms
func WithCategory(c validator.Category) EngineOption {
	return func(e *Engine) {
		e.category = c
	}
}

// WithPolicy overrides the scoring penalties
func WithPolicy(p Policy) EngineOption {
	return func(e *Engine) {
		e.policy = p
	}
}

// NewEngine creates an engine using the strict profile and B2B terms by default
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		profile:  validator.Strict(),
		category: validator.CategoryB2B,
		policy:   DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Profile returns the configured strictness profile
func (e *Engine) Profile() validator.Profile {
	return e.profile
}

// Category returns the configured transaction category
func (e *Engine) Category() validator.Category {
	return e.category
}

// Score validates one invoice snapshot. The input is never modified.
func (e *Engine) Score(inv *model.ExtractedInvoiceData) model.ComplianceVerdict {
	if inv == nil {
		inv = &model.ExtractedInvoiceData{}
	}

	c := &checklist{}

	e.checkRequired(c, inv)
	e.checkFormats(c, inv)
	checkTotals(c, inv)
	checkLineRates(c, inv)

	return model.ComplianceVerdict{
		IsCompliant:   c.failedErrors() == 0 && len(c.missing) == 0,
		Results:       c.results,
		MissingFields: c.missing,
		Score:         e.computeScore(c),
	}
}

func (e *Engine) checkRequired(c *checklist, inv *model.ExtractedInvoiceData) {
	required := []struct {
		field   string
		label   string
		present bool
	}{
		{FieldInvoiceNumber, LabelInvoiceNumber, inv.InvoiceNumber != ""},
		{FieldInvoiceDate, LabelInvoiceDate, inv.InvoiceDate != ""},
		{FieldSupplierName, LabelSupplierName, inv.Supplier.Name != ""},
		{FieldTotalInclVAT, LabelTotalInclVAT, inv.TotalInclVAT != nil},
	}

	for _, r := range required {
		if r.present {
			continue
		}
		c.missing = append(c.missing, r.label)
		c.fail(r.field, model.SeverityError, fmt.Sprintf("Champ obligatoire manquant : %s", r.label), "")
	}
}

func (e *Engine) checkFormats(c *checklist, inv *model.ExtractedInvoiceData) {
	if inv.InvoiceNumber != "" {
		c.check(FieldInvoiceNumber, model.SeverityError,
			validator.IsValidInvoiceNumber(inv.InvoiceNumber),
			"Numéro de facture invalide (1 à 20 caractères alphanumériques, - ou /)")
	}
	if inv.InvoiceDate != "" {
		c.check(FieldInvoiceDate, model.SeverityError,
			validator.IsValidFrenchDate(inv.InvoiceDate),
			"Date de facture invalide (format JJ/MM/AAAA)")
	}
	if inv.DueDate != "" {
		c.check(FieldDueDate, model.SeverityWarning,
			validator.IsValidFrenchDate(inv.DueDate),
			"Date d'échéance invalide (format JJ/MM/AAAA)")
	}

	e.checkParty(c, inv.Supplier, FieldSupplierSIRET, FieldSupplierVAT, model.SeverityError, "du fournisseur")
	e.checkParty(c, inv.Buyer, FieldBuyerSIRET, FieldBuyerVAT, model.SeverityWarning, "du client")

	checkAmount(c, FieldTotalExclVAT, inv.TotalExclVAT, "Montant HT invalide")
	checkAmount(c, FieldTotalInclVAT, inv.TotalInclVAT, "Montant TTC invalide")
	checkAmount(c, FieldVATAmount, inv.VATAmount, "Montant de TVA invalide")

	if inv.PaymentTerms != nil {
		c.check(FieldPaymentTerms, model.SeverityError,
			validator.IsValidPaymentTerms(*inv.PaymentTerms, e.category),
			fmt.Sprintf("Délai de paiement invalide (0 à %d jours en %s)", e.category.MaxPaymentDays(), e.category))
	}
}

func (e *Engine) checkParty(c *checklist, p model.Party, siretField, vatField string, severity model.Severity, who string) {
	if p.SIRET != "" {
		c.check(siretField, severity, e.profile.SIRET(p.SIRET),
			fmt.Sprintf("SIRET %s invalide", who))
	}
	if p.VATNumber == "" {
		return
	}
	if e.profile.VATNumber(p.VATNumber) {
		c.pass(vatField, severity)
		return
	}
	c.fail(vatField, severity,
		fmt.Sprintf("Numéro de TVA intracommunautaire %s invalide", who),
		suggestVAT(p))
}

// suggestVAT derives the expected VAT number from the party SIRET, or from
// the SIREN embedded in the supplied VAT number.
func suggestVAT(p model.Party) string {
	if siren, ok := validator.SIRENFromSIRET(p.SIRET); ok {
		if vat, ok := validator.SuggestVATNumber(siren); ok {
			return vat
		}
	}
	norm := validator.NormalizeVATNumber(p.VATNumber)
	if len(norm) == 13 {
		if vat, ok := validator.SuggestVATNumber(norm[4:]); ok {
			return vat
		}
	}
	return ""
}

func checkAmount(c *checklist, field string, amount *decimal.Decimal, msg string) {
	if amount == nil {
		return
	}
	c.check(field, model.SeverityError, validator.IsValidAmount(*amount), msg)
}

func checkTotals(c *checklist, inv *model.ExtractedInvoiceData) {
	if !inv.HasAllTotals() {
		return
	}
	if inv.TotalsConsistent() {
		c.pass(FieldTotals, model.SeverityError)
		return
	}
	expected := inv.TotalExclVAT.Add(*inv.VATAmount)
	c.fail(FieldTotals, model.SeverityError,
		fmt.Sprintf("Incohérence des montants : HT %s + TVA %s ≠ TTC %s",
			dec.FormatEUR(*inv.TotalExclVAT), dec.FormatEUR(*inv.VATAmount), dec.FormatEUR(*inv.TotalInclVAT)),
		dec.FormatEUR(expected))
}

// checkLineRates notes line items taxed outside the standard French rates.
// Only the non-standard lines produce a result.
func checkLineRates(c *checklist, inv *model.ExtractedInvoiceData) {
	for i, item := range inv.LineItems {
		if validator.IsValidVATRate(item.VATRate) {
			continue
		}
		c.fail(LineVATRateField(i), model.SeverityInfo,
			fmt.Sprintf("Taux de TVA non standard sur la ligne %d : %s %%", i+1, strconv.FormatFloat(item.VATRate, 'f', -1, 64)), "")
	}
}

// computeScore applies round(100 × valid / total) then the penalties.
// Informational results are not scored. Missing required fields are also failed error results, so each one costs
// both penalties.
func (e *Engine) computeScore(c *checklist) int {
	valid, total := c.scored()
	if total == 0 {
		return 0
	}
	base := int(math.Round(100 * float64(valid) / float64(total)))
	score := base -
		e.policy.MissingFieldPenalty*len(c.missing) -
		e.policy.FailedErrorPenalty*c.failedErrors()
	return clamp(score, 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// checklist accumulates results for a single Score call
type checklist struct {
	results []model.ValidationResult
	missing []string
}

func (c *checklist) check(field string, severity model.Severity, ok bool, failMsg string) {
	if ok {
		c.pass(field, severity)
		return
	}
	c.fail(field, severity, failMsg, "")
}

func (c *checklist) pass(field string, severity model.Severity) {
	c.results = append(c.results, model.ValidationResult{
		Field:    field,
		IsValid:  true,
		Severity: severity,
		Message:  "OK",
	})
}

func (c *checklist) fail(field string, severity model.Severity, msg, suggested string) {
	c.results = append(c.results, model.ValidationResult{
		Field:          field,
		IsValid:        false,
		Severity:       severity,
		Message:        msg,
		SuggestedValue: suggested,
	})
}

// scored counts the valid and total results, leaving out informational ones
func (c *checklist) scored() (valid, total int) {
	for _, r := range c.results {
		if r.Severity == model.SeverityInfo {
			continue
		}
		total++
		if r.IsValid {
			valid++
		}
	}
	return valid, total
}

func (c *checklist) failedErrors() int {
	n := 0
	for _, r := range c.results {
		if r.IsFailedError() {
			n++
		}
	}
	return n
}
