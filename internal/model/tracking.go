package model

import "time"

// InvoiceStatus is a lifecycle state of an invoice
type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "draft"
	StatusExtracted InvoiceStatus = "extracted"
	StatusValidated InvoiceStatus = "validated"
	StatusCompliant InvoiceStatus = "compliant"
	StatusExported  InvoiceStatus = "exported"
	StatusSent      InvoiceStatus = "sent"
	StatusReceived  InvoiceStatus = "received"
	StatusPaid      InvoiceStatus = "paid"
	StatusArchived  InvoiceStatus = "archived"
	StatusError     InvoiceStatus = "error"
	StatusRejected  InvoiceStatus = "rejected"
)

// StatusHistoryEntry is one line of the legal audit trail
type StatusHistoryEntry struct {
	Status    InvoiceStatus     `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// InvoiceTrackingData is the lifecycle record of one invoice.
// History is append-only.
type InvoiceTrackingData struct {
	ID              string               `json:"id"`
	Status          InvoiceStatus        `json:"status"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	History         []StatusHistoryEntry `json:"history"`
	ComplianceScore *int                 `json:"compliance_score,omitempty"`
	ErrorCount      int                  `json:"error_count"`
	WarningCount    int                  `json:"warning_count"`
	Tags            []string             `json:"tags,omitempty"`
}
