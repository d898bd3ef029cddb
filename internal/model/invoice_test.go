package model_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/facturx-gateway/internal/model"
)

func TestInvoice_Creation(t *testing.T) {
	inv := model.ExtractedInvoiceData{
		InvoiceNumber: "FAC-2024-001234",
		InvoiceDate:   "15/03/2024",
		Supplier: model.Party{
			Name:  "TECH SOLUTIONS SARL",
			SIRET: "73282932000074",
		},
		Buyer: model.Party{
			Name: "CLIENT ENTREPRISE SAS",
		},
		Currency: "EUR",
	}

	assert.Equal(t, "FAC-2024-001234", inv.InvoiceNumber)
	assert.Equal(t, "73282932000074", inv.Supplier.SIRET)
	assert.False(t, inv.Supplier.IsEmpty())
	assert.False(t, inv.Buyer.IsEmpty())
	assert.True(t, model.Party{}.IsEmpty())
	assert.Equal(t, "EUR", inv.CurrencyOrDefault())
}

func TestInvoice_TotalsConsistent(t *testing.T) {
	tests := []struct {
		name     string
		excl     *decimal.Decimal
		vat      *decimal.Decimal
		incl     *decimal.Decimal
		expected bool
	}{
		{"exact", model.Amount("1850.00"), model.Amount("370.00"), model.Amount("2220.00"), true},
		{"within tolerance", model.Amount("1850.00"), model.Amount("370.00"), model.Amount("2220.01"), true},
		{"outside tolerance", model.Amount("1850.00"), model.Amount("370.00"), model.Amount("2220.02"), false},
		{"missing vat", model.Amount("1850.00"), nil, model.Amount("9999.00"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := model.ExtractedInvoiceData{
				TotalExclVAT: tt.excl,
				VATAmount:    tt.vat,
				TotalInclVAT: tt.incl,
			}
			assert.Equal(t, tt.expected, inv.TotalsConsistent())
		})
	}
}

func TestLineItem_AmountExclVAT(t *testing.T) {
	item := model.LineItem{
		Description: "Maintenance mensuelle",
		Quantity:    decimal.NewFromInt(3),
		UnitPrice:   decimal.RequireFromString("150.00"),
		VATRate:     20,
	}

	assert.True(t, item.AmountExclVAT().Equal(decimal.NewFromInt(450)),
		"Expected amount 450, got %s", item.AmountExclVAT().String())
}

func TestInvoice_LineItemsTotal(t *testing.T) {
	inv := model.ExtractedInvoiceData{
		LineItems: []model.LineItem{
			{Description: "Développement site web", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1000), VATRate: 20},
			{Description: "Maintenance mensuelle", Quantity: decimal.NewFromInt(3), UnitPrice: decimal.NewFromInt(150), VATRate: 20},
			{Description: "Formation utilisateurs", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(200), VATRate: 20},
		},
	}

	assert.True(t, inv.LineItemsTotal().Equal(decimal.NewFromInt(1850)))
}

func TestInvoice_CloneIsDeep(t *testing.T) {
	inv := &model.ExtractedInvoiceData{
		InvoiceNumber: "F-1",
		TotalInclVAT:  model.Amount("120.00"),
		PaymentTerms:  model.Days(30),
		LineItems:     []model.LineItem{{Description: "a"}},
	}

	clone := inv.Clone()
	*clone.TotalInclVAT = decimal.NewFromInt(1)
	*clone.PaymentTerms = 45
	clone.LineItems[0].Description = "b"
	clone.AddIssue("changed")

	assert.True(t, inv.TotalInclVAT.Equal(decimal.RequireFromString("120.00")))
	assert.Equal(t, 30, *inv.PaymentTerms)
	assert.Equal(t, "a", inv.LineItems[0].Description)
	assert.Empty(t, inv.ExtractionIssues)
}

func TestComplianceVerdict_Counts(t *testing.T) {
	verdict := model.ComplianceVerdict{
		Results: []model.ValidationResult{
			{Field: "invoiceNumber", IsValid: true, Severity: model.SeverityError},
			{Field: "supplierSiret", IsValid: false, Severity: model.SeverityError, Message: "SIRET invalide"},
			{Field: "dueDate", IsValid: false, Severity: model.SeverityWarning, Message: "date d'échéance invalide"},
		},
	}

	assert.Equal(t, 1, verdict.ErrorCount())
	assert.Equal(t, 1, verdict.WarningCount())
	assert.Equal(t, []string{"SIRET invalide"}, verdict.Errors())
	assert.Equal(t, []string{"date d'échéance invalide"}, verdict.Warnings())
}

func TestParseProvider(t *testing.T) {
	for _, p := range []model.Provider{model.ProviderChorusPro, model.ProviderPeppol, model.ProviderCustomPartner} {
		parsed, ok := model.ParseProvider(string(p))
		assert.True(t, ok)
		assert.Equal(t, p, parsed)
	}

	_, ok := model.ParseProvider("fax")
	assert.False(t, ok)
}

func TestTransmissionResult_AddError(t *testing.T) {
	result := &model.TransmissionResult{Success: true, Status: model.TransmissionSubmitted}
	result.AddError(model.ErrCodeNetwork, "connection reset", "")

	assert.False(t, result.Success)
	assert.Equal(t, model.TransmissionFailed, result.Status)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, model.SeverityError, result.Errors[0].Severity)
}

func TestParseError(t *testing.T) {
	err := &model.ParseError{
		Format:  "cii",
		Field:   "ExchangedDocument/ID",
		Message: "missing invoice number",
	}

	require.Contains(t, err.Error(), "cii")
	require.Contains(t, err.Error(), "ExchangedDocument/ID")
	require.Contains(t, err.Error(), "missing invoice number")
}

func TestParseError_WithCause(t *testing.T) {
	cause := assert.AnError
	err := model.NewParseError("ubl", "IssueDate", "parse failed", cause)

	require.Contains(t, err.Error(), "ubl")
	require.ErrorIs(t, err, cause)
}

func TestValidationError(t *testing.T) {
	err := model.NewValidationError("recipient_siret", "1234567890123", "length", "must be 14 digits")

	require.Contains(t, err.Error(), "recipient_siret")
	require.Contains(t, err.Error(), "1234567890123")
	require.Contains(t, err.Error(), "14 digits")
}

func TestAuthenticationError(t *testing.T) {
	err := model.NewAuthenticationError(model.ProviderChorusPro, "token request rejected", assert.AnError)

	require.Contains(t, err.Error(), "chorus_pro")
	require.ErrorIs(t, err, assert.AnError)
}

func TestProviderError(t *testing.T) {
	err := model.NewProviderError(model.ProviderPeppol, 503, "", "service unavailable")

	assert.True(t, err.Retryable())
	assert.Equal(t, model.ErrCodeProvider, err.TransmissionError().Code)
	assert.False(t, model.NewProviderError(model.ProviderPeppol, 400, "BAD", "bad").Retryable())
}

func TestInvalidTransitionError(t *testing.T) {
	err := model.NewInvalidTransitionError("inv-1", model.StatusDraft, model.StatusPaid)

	require.Contains(t, err.Error(), "draft -> paid")
	require.Contains(t, err.Error(), "inv-1")
}
