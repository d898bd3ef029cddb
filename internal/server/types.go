package server

import (
	"fmt"

	"github.com/rezonia/facturx-gateway/internal/model"
	"github.com/rezonia/facturx-gateway/internal/processor"
)

// ProcessResponse is the response for extraction endpoints
type ProcessResponse struct {
	Invoice    *model.ExtractedInvoiceData `json:"invoice"`
	Method     string                      `json:"method"`
	Confidence float64                     `json:"confidence"`
	Warnings   []string                    `json:"warnings,omitempty"`
}

func newProcessResponse(r *processor.Result) ProcessResponse {
	return ProcessResponse{
		Invoice:    r.Invoice,
		Method:     string(r.Method),
		Confidence: r.Confidence,
		Warnings:   r.Warnings,
	}
}

// ValidationResponse is the response for validate endpoint
type ValidationResponse struct {
	Valid         bool                     `json:"valid"`
	Score         int                      `json:"score"`
	Profile       string                   `json:"profile"`
	Category      string                   `json:"category"`
	MissingFields []string                 `json:"missing_fields,omitempty"`
	Errors        []string                 `json:"errors,omitempty"`
	Warnings      []string                 `json:"warnings,omitempty"`
	Results       []model.ValidationResult `json:"results"`
}

// InfoResponse is the response for info endpoint
type InfoResponse struct {
	Format   string `json:"format"`
	MimeType string `json:"mime_type"`
	Size     int    `json:"size"`
}

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error    string   `json:"error"`
	Details  string   `json:"details,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// InvoiceResponse describes one tracked invoice
type InvoiceResponse struct {
	ID         string                      `json:"id"`
	Invoice    *model.ExtractedInvoiceData `json:"invoice,omitempty"`
	Extraction *ProcessResponse            `json:"extraction,omitempty"`
	Verdict    *model.ComplianceVerdict    `json:"verdict,omitempty"`
	Tracking   model.InvoiceTrackingData   `json:"tracking"`
	Error      string                      `json:"error,omitempty"`

	Completion      int   `json:"completion"`
	InStatusSeconds int64 `json:"in_status_seconds"`
	Stalled         bool  `json:"stalled"`
}

// TransitionRequest asks for a manual lifecycle change
type TransitionRequest struct {
	Status  string `json:"status" binding:"required"`
	Message string `json:"message"`
}

// TransmitRequest selects the network and delivery options
type TransmitRequest struct {
	Provider       string `json:"provider" binding:"required"`
	RecipientSIRET string `json:"recipient_siret"`
	Priority       string `json:"priority"`
	Mode           string `json:"mode"`
	RequireAck     bool   `json:"require_ack"`
	TestMode       bool   `json:"test_mode"`
}

func (r TransmitRequest) submitOptions() (processor.SubmitOptions, error) {
	provider, ok := model.ParseProvider(r.Provider)
	if !ok {
		return processor.SubmitOptions{}, fmt.Errorf("unknown provider %q", r.Provider)
	}

	priority := model.Priority(r.Priority)
	switch priority {
	case "", model.PriorityNormal, model.PriorityHigh, model.PriorityUrgent:
	default:
		return processor.SubmitOptions{}, fmt.Errorf("unknown priority %q", r.Priority)
	}

	mode := model.DeliveryMode(r.Mode)
	switch mode {
	case "", model.DeliveryPush, model.DeliveryPull:
	default:
		return processor.SubmitOptions{}, fmt.Errorf("unknown delivery mode %q", r.Mode)
	}

	return processor.SubmitOptions{
		Provider:       provider,
		RecipientSIRET: r.RecipientSIRET,
		Delivery: model.DeliveryOptions{
			Priority:   priority,
			Mode:       mode,
			RequireAck: r.RequireAck,
			TestMode:   r.TestMode,
		},
	}, nil
}

// TransmitResponse pairs the gateway outcome with the invoice lifecycle
type TransmitResponse struct {
	Result   *model.TransmissionResult `json:"result"`
	Tracking model.InvoiceTrackingData `json:"tracking"`
}

// TrackResponse pairs the provider status with the invoice lifecycle
type TrackResponse struct {
	Transmission *model.TrackingInfo       `json:"transmission"`
	Tracking     model.InvoiceTrackingData `json:"tracking"`
}
