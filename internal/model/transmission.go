package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies a transmission network
type Provider string

const (
	ProviderChorusPro     Provider = "chorus_pro"
	ProviderPeppol        Provider = "peppol"
	ProviderCustomPartner Provider = "custom_partner"
)

// ParseProvider converts a string into a known Provider
func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderChorusPro, ProviderPeppol, ProviderCustomPartner:
		return Provider(s), true
	}
	return "", false
}

// TransmissionStatus is the canonical status shared by every provider
type TransmissionStatus string

const (
	TransmissionPending      TransmissionStatus = "pending"
	TransmissionSubmitted    TransmissionStatus = "submitted"
	TransmissionDelivered    TransmissionStatus = "delivered"
	TransmissionAcknowledged TransmissionStatus = "acknowledged"
	TransmissionRejected     TransmissionStatus = "rejected"
	TransmissionFailed       TransmissionStatus = "failed"
	TransmissionCancelled    TransmissionStatus = "cancelled"
)

// Priority of a transmission
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// DeliveryMode tells the network whether to push the document or let the recipient pull it
type DeliveryMode string

const (
	DeliveryPush DeliveryMode = "push"
	DeliveryPull DeliveryMode = "pull"
)

// InvoiceMetadata summarises the invoice being transmitted
type InvoiceMetadata struct {
	Number   string          `json:"number"`
	Date     string          `json:"date"` // DD/MM/YYYY
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
}

// DeliveryOptions controls how the network handles the transmission
type DeliveryOptions struct {
	Priority   Priority     `json:"priority,omitempty"`
	Mode       DeliveryMode `json:"mode,omitempty"`
	RequireAck bool         `json:"require_ack"`
	TestMode   bool         `json:"test_mode"`
}

// TransmissionRequest is built once per attempt and must not be modified
// after it is handed to a gateway.
type TransmissionRequest struct {
	InvoiceID      string          `json:"invoice_id"`
	RecipientSIRET string          `json:"recipient_siret"`
	SenderSIRET    string          `json:"sender_siret"`
	HybridDocument []byte          `json:"-"`
	XMLContent     string          `json:"-"`
	Metadata       InvoiceMetadata `json:"metadata"`
	Options        DeliveryOptions `json:"options"`
}

// RecipientInfo describes who the transmission was addressed to
type RecipientInfo struct {
	SIRET         string `json:"siret,omitempty"`
	Name          string `json:"name,omitempty"`
	ParticipantID string `json:"participant_id,omitempty"`
	Endpoint      string `json:"endpoint,omitempty"`
}

// TrackingIdentifiers holds provider-side references for later polling
type TrackingIdentifiers struct {
	ProviderReference string `json:"provider_reference,omitempty"`
	MessageID         string `json:"message_id,omitempty"`
	ConversationID    string `json:"conversation_id,omitempty"`
}

// TransmissionError is a provider or local error attached to a result
type TransmissionError struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Field    string   `json:"field,omitempty"`
	Severity Severity `json:"severity"`
}

// TransmissionResult is produced by a gateway adapter. Failures are reported
// here as data so that callers can always persist an outcome.
type TransmissionResult struct {
	Success        bool                `json:"success"`
	TransmissionID string              `json:"transmission_id,omitempty"`
	Provider       Provider            `json:"provider"`
	Status         TransmissionStatus  `json:"status"`
	Timestamp      time.Time           `json:"timestamp"`
	Recipient      RecipientInfo       `json:"recipient"`
	Tracking       TrackingIdentifiers `json:"tracking"`
	Errors         []TransmissionError `json:"errors,omitempty"`
	Warnings       []string            `json:"warnings,omitempty"`
}

// AddError appends an error and marks the result as failed
func (r *TransmissionResult) AddError(code, message, field string) {
	r.Errors = append(r.Errors, TransmissionError{
		Code:     code,
		Message:  message,
		Field:    field,
		Severity: SeverityError,
	})
	r.Success = false
	r.Status = TransmissionFailed
}

// AddWarning appends a warning message
func (r *TransmissionResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// NewFailedResult creates a failed result carrying one error
func NewFailedResult(provider Provider, code, message string) *TransmissionResult {
	result := &TransmissionResult{
		Provider:  provider,
		Timestamp: time.Now().UTC(),
	}
	result.AddError(code, message, "")
	return result
}

// StatusEvent is one entry of a provider-side status history
type StatusEvent struct {
	Status         TransmissionStatus `json:"status"`
	ProviderStatus string             `json:"provider_status,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
	Message        string             `json:"message,omitempty"`
}

// TrackingInfo is the current status and full history of one transmission
type TrackingInfo struct {
	TransmissionID string             `json:"transmission_id"`
	Provider       Provider           `json:"provider"`
	Status         TransmissionStatus `json:"status"`
	ProviderStatus string             `json:"provider_status,omitempty"`
	LastUpdated    time.Time          `json:"last_updated"`
	History        []StatusEvent      `json:"history"`
}
