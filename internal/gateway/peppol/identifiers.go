package peppol

import (
	"strings"

	"github.com/rezonia/facturx-gateway/internal/gateway"
	"github.com/rezonia/facturx-gateway/internal/model"
)

// PEPPOL identifier schemes and values
const (
	ParticipantScheme  = "iso6523-actorid-upis"
	DocumentScheme     = "busdox-docid-qns"
	ProcessScheme      = "cenbii-procid-ubl"
	SIRETSchemePrefix  = "9956:"
	TransportAS4       = "peppol-transport-as4-v2_0"
	BillingProcess     = "urn:fdc:peppol.eu:2017:poacc:billing:01:1.0"
	UBLInvoiceDocument = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2::Invoice##urn:cen.eu:en16931:2017#compliant#urn:fdc:peppol.eu:2017:poacc:billing:3.0::2.1"
	CIIInvoiceDocument = "urn:un:unece:uncefact:data:standard:CrossIndustryInvoice:100::CrossIndustryInvoice##urn:cen.eu:en16931:2017#compliant#urn:fdc:peppol.eu:2017:poacc:billing:3.0::D16B"
)

// Access point message statuses
const (
	StatusSent         = "sent"
	StatusDelivered    = "delivered"
	StatusFailed       = "failed"
	StatusAcknowledged = "acknowledged"
)

// StatusMap maps access point statuses to canonical ones. Unknown codes map to pending.
var StatusMap = gateway.StatusMap{
	StatusSent:         model.TransmissionSubmitted,
	StatusDelivered:    model.TransmissionDelivered,
	StatusFailed:       model.TransmissionFailed,
	StatusAcknowledged: model.TransmissionAcknowledged,
}

// MapStatus converts an access point status into the canonical vocabulary
func MapStatus(s string) model.TransmissionStatus {
	return StatusMap.Map(strings.ToLower(s))
}

// ParticipantID converts a SIRET into a PEPPOL participant identifier value
func ParticipantID(siret string) string {
	return SIRETSchemePrefix + siret
}

// DocumentTypeFor picks the document type identifier matching the payload syntax
func DocumentTypeFor(xmlContent string) string {
	head := xmlContent
	if len(head) > 512 {
		head = head[:512]
	}
	if strings.Contains(head, "CrossIndustryInvoice") {
		return CIIInvoiceDocument
	}
	return UBLInvoiceDocument
}
