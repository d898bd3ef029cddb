package gateway

import (
	"github.com/rezonia/facturx-gateway/internal/model"
)

const siretDigits = 14

// ValidateRequest checks a transmission request before any network call.
// SIRETs must be exactly 14 digits as supplied; no normalization is applied.
func ValidateRequest(req *model.TransmissionRequest) error {
	if req == nil {
		return model.NewValidationError("request", nil, "required", "transmission request is required")
	}
	if req.InvoiceID == "" {
		return model.NewValidationError("invoice_id", nil, "required", "invoice id is required")
	}
	if err := validateSIRET("recipient_siret", req.RecipientSIRET); err != nil {
		return err
	}
	if err := validateSIRET("sender_siret", req.SenderSIRET); err != nil {
		return err
	}
	if len(req.HybridDocument) == 0 && req.XMLContent == "" {
		return model.NewValidationError("document", nil, "required", "hybrid document or XML content is required")
	}
	if req.Metadata.Number == "" {
		return model.NewValidationError("metadata.number", nil, "required", "invoice number is required")
	}
	if req.Metadata.Total.IsNegative() {
		return model.NewValidationError("metadata.total", req.Metadata.Total.String(), "non_negative", "invoice total must not be negative")
	}
	return nil
}

func validateSIRET(field, siret string) error {
	if siret == "" {
		return model.NewValidationError(field, nil, "required", "SIRET is required")
	}
	if len(siret) != siretDigits {
		return model.NewValidationError(field, siret, "length", "SIRET must be exactly 14 digits")
	}
	for i := 0; i < len(siret); i++ {
		if siret[i] < '0' || siret[i] > '9' {
			return model.NewValidationError(field, siret, "digits", "SIRET must contain only digits")
		}
	}
	return nil
}
