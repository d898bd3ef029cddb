package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rezonia/facturx-gateway/internal/model"
	"github.com/rezonia/facturx-gateway/internal/validator"
)

// Method names reported in extraction errors
const (
	MethodText   = "llm_text"
	MethodVision = "llm_vision"
)

const (
	// DefaultConfidence is used when the model does not report one
	DefaultConfidence = 0.7
	// MaxConfidence caps model-reported confidence; only structured XML is certain
	MaxConfidence = 0.95
)

// LLMParty is a party as returned by the model
type LLMParty struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	SIRET     string `json:"siret"`
	VATNumber string `json:"vat_number"`
}

// LLMLineItem is a line as returned by the model
type LLMLineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATRate     float64         `json:"vat_rate"`
}

// LLMResponse is the JSON document the prompts ask for
type LLMResponse struct {
	InvoiceNumber string           `json:"invoice_number"`
	InvoiceDate   string           `json:"invoice_date"`
	DueDate       string           `json:"due_date"`
	Supplier      LLMParty         `json:"supplier"`
	Buyer         LLMParty         `json:"buyer"`
	Items         []LLMLineItem    `json:"items"`
	TotalExclVAT  *decimal.Decimal `json:"total_excl_vat"`
	VATAmount     *decimal.Decimal `json:"vat_amount"`
	TotalInclVAT  *decimal.Decimal `json:"total_incl_vat"`
	Currency      string           `json:"currency"`
	PaymentTerms  *int             `json:"payment_terms"`
	Confidence    float64          `json:"confidence"`
}

// ToInvoice normalizes the model output into the canonical record.
// Identifiers are stripped of separators and dates coerced to DD/MM/YYYY;
// anything that still looks wrong is recorded as an extraction issue.
func (r *LLMResponse) ToInvoice() *model.ExtractedInvoiceData {
	inv := &model.ExtractedInvoiceData{
		InvoiceNumber: strings.TrimSpace(r.InvoiceNumber),
		Supplier:      toParty(r.Supplier),
		Buyer:         toParty(r.Buyer),
		TotalExclVAT:  r.TotalExclVAT,
		VATAmount:     r.VATAmount,
		TotalInclVAT:  r.TotalInclVAT,
		Currency:      strings.ToUpper(strings.TrimSpace(r.Currency)),
		PaymentTerms:  r.PaymentTerms,
		Confidence:    clampConfidence(r.Confidence),
	}
	inv.InvoiceDate = normalizeDate(inv, "invoice_date", r.InvoiceDate)
	inv.DueDate = normalizeDate(inv, "due_date", r.DueDate)

	for _, item := range r.Items {
		inv.LineItems = append(inv.LineItems, model.LineItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			VATRate:     item.VATRate,
		})
	}

	if s := inv.Supplier.SIRET; s != "" && len(s) != validator.SIRETLength {
		inv.AddIssue(fmt.Sprintf("SIRET fournisseur suspect: %s", s))
	}
	if !inv.TotalsConsistent() {
		inv.AddIssue("totaux HT + TVA différents du TTC")
	}
	return inv
}

func toParty(p LLMParty) model.Party {
	party := model.Party{
		Name:    strings.TrimSpace(p.Name),
		Address: strings.TrimSpace(p.Address),
		SIRET:   validator.NormalizeSIRET(p.SIRET),
	}
	if p.VATNumber != "" {
		party.VATNumber = validator.NormalizeVATNumber(p.VATNumber)
	}
	return party
}

// normalizeDate accepts DD/MM/YYYY, DD-MM-YYYY, DD.MM.YYYY and ISO dates
func normalizeDate(inv *model.ExtractedInvoiceData, field, s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if _, ok := validator.ParseFrenchDate(s); ok {
		return s
	}
	for _, layout := range []string{"02-01-2006", "02.01.2006", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(validator.FrenchDateLayout)
		}
	}
	inv.AddIssue(fmt.Sprintf("%s: date illisible %q", field, s))
	return s
}

func clampConfidence(c float64) float64 {
	if c <= 0 || c > 1 {
		return DefaultConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}

// Extractor turns free text or invoice images into ExtractedInvoiceData
type Extractor struct {
	client *Client
	model  string
}

// ExtractorOption configures the extractor
type ExtractorOption func(*Extractor)

// WithModel selects the model used for extraction
func WithModel(model string) ExtractorOption {
	return func(e *Extractor) {
		e.model = model
	}
}

// NewExtractor creates a new LLM extractor
func NewExtractor(client *Client, opts ...ExtractorOption) *Extractor {
	e := &Extractor{client: client}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractText extracts invoice fields from plain text
func (e *Extractor) ExtractText(ctx context.Context, text string) (*model.ExtractedInvoiceData, error) {
	if strings.TrimSpace(text) == "" {
		return nil, model.NewExtractionError(MethodText, "empty text", nil)
	}

	resp, err := e.client.ChatText(ctx, e.model, SystemPromptInvoiceExtractor, fmt.Sprintf(UserPromptTextExtraction, text))
	if err != nil {
		return nil, model.NewExtractionError(MethodText, "LLM request failed", err)
	}
	return decode(MethodText, resp)
}

// ExtractImage extracts invoice fields from a scanned invoice
func (e *Extractor) ExtractImage(ctx context.Context, data []byte, mimeType string) (*model.ExtractedInvoiceData, error) {
	if len(data) == 0 {
		return nil, model.NewExtractionError(MethodVision, "empty image", nil)
	}

	resp, err := e.client.ChatWithImage(ctx, e.model, SystemPromptInvoiceExtractor, UserPromptImageExtraction, data, mimeType)
	if err != nil {
		return nil, model.NewExtractionError(MethodVision, "LLM request failed", err)
	}
	return decode(MethodVision, resp)
}

func decode(method, resp string) (*model.ExtractedInvoiceData, error) {
	var out LLMResponse
	if err := json.Unmarshal([]byte(ExtractJSON(resp)), &out); err != nil {
		return nil, model.NewExtractionError(method, "invalid JSON in LLM response", err)
	}
	return out.ToInvoice(), nil
}
