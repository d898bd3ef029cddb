package compliance

import "fmt"

// Default scoring penalties. These are product policy, not regulation.
const (
	DefaultMissingFieldPenalty = 15
	DefaultFailedErrorPenalty  = 10
)

// Policy holds the scoring constants
type Policy struct {
	// MissingFieldPenalty is subtracted once per missing required field
	MissingFieldPenalty int
	// FailedErrorPenalty is subtracted once per failed error-severity result
	FailedErrorPenalty int
}

// DefaultPolicy returns the standard penalties
func DefaultPolicy() Policy {
	return Policy{
		MissingFieldPenalty: DefaultMissingFieldPenalty,
		FailedErrorPenalty:  DefaultFailedErrorPenalty,
	}
}

// Required field labels, as shown to the user
const (
	LabelInvoiceNumber = "Numéro de facture"
	LabelInvoiceDate   = "Date de facture"
	LabelSupplierName  = "Nom du fournisseur"
	LabelTotalInclVAT  = "Montant TTC"
)

// Result field names
const (
	FieldInvoiceNumber = "invoiceNumber"
	FieldInvoiceDate   = "invoiceDate"
	FieldDueDate       = "dueDate"
	FieldSupplierName  = "supplierName"
	FieldSupplierSIRET = "supplierSiret"
	FieldSupplierVAT   = "supplierVatNumber"
	FieldBuyerSIRET    = "buyerSiret"
	FieldBuyerVAT      = "buyerVatNumber"
	FieldTotalExclVAT  = "totalExclVat"
	FieldTotalInclVAT  = "totalInclVat"
	FieldVATAmount     = "vatAmount"
	FieldPaymentTerms  = "paymentTerms"
	FieldTotals        = "totals"
)

// LineVATRateField names the VAT rate result of line item i (zero-based)
func LineVATRateField(i int) string {
	return fmt.Sprintf("lineItems[%d].vatRate", i)
}
