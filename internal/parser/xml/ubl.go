package xml

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"

	"github.com/rezonia/facturx-gateway/internal/model"
)

// UBL 2.1 invoice (PEPPOL BIS Billing 3.0), matched on local names
type ublInvoice struct {
	XMLName      xml.Name        `xml:"Invoice"`
	ID           string          `xml:"ID"`
	IssueDate    string          `xml:"IssueDate"`
	DueDate      string          `xml:"DueDate"`
	Currency     string          `xml:"DocumentCurrencyCode"`
	Supplier     ublParty        `xml:"AccountingSupplierParty>Party"`
	Customer     ublParty        `xml:"AccountingCustomerParty>Party"`
	PaymentTerms string          `xml:"PaymentTerms>Note"`
	TaxTotals    []ublAmount     `xml:"TaxTotal>TaxAmount"`
	Monetary     ublMonetary     `xml:"LegalMonetaryTotal"`
	Lines        []ublInvoiceRow `xml:"InvoiceLine"`
}

type ublParty struct {
	EndpointID      identifier   `xml:"EndpointID"`
	Identifications []identifier `xml:"PartyIdentification>ID"`
	Name            string       `xml:"PartyName>Name"`
	Street          string       `xml:"PostalAddress>StreetName"`
	Additional      string       `xml:"PostalAddress>AdditionalStreetName"`
	City            string       `xml:"PostalAddress>CityName"`
	PostalZone      string       `xml:"PostalAddress>PostalZone"`
	TaxCompanyIDs   []string     `xml:"PartyTaxScheme>CompanyID"`
	LegalName       string       `xml:"PartyLegalEntity>RegistrationName"`
	LegalCompanyID  identifier   `xml:"PartyLegalEntity>CompanyID"`
}

type ublAmount struct {
	Value    string `xml:",chardata"`
	Currency string `xml:"currencyID,attr"`
}

type ublMonetary struct {
	LineExtension  string `xml:"LineExtensionAmount"`
	TaxExclusive   string `xml:"TaxExclusiveAmount"`
	TaxInclusive   string `xml:"TaxInclusiveAmount"`
	PayableAmount  string `xml:"PayableAmount"`
	PrepaidAmount  string `xml:"PrepaidAmount"`
	AllowanceTotal string `xml:"AllowanceTotalAmount"`
}

type ublInvoiceRow struct {
	Quantity string `xml:"InvoicedQuantity"`
	Name     string `xml:"Item>Name"`
	VATRate  string `xml:"Item>ClassifiedTaxCategory>Percent"`
	Price    string `xml:"Price>PriceAmount"`
}

// UBLAdapter parses UBL 2.1 invoices
type UBLAdapter struct{}

// NewUBLAdapter creates a new UBL adapter
func NewUBLAdapter() *UBLAdapter {
	return &UBLAdapter{}
}

// Syntax returns the syntax handled
func (a *UBLAdapter) Syntax() Syntax {
	return SyntaxUBL
}

// CanParse checks for the UBL invoice namespace
func (a *UBLAdapter) CanParse(content []byte) bool {
	return bytes.Contains(content, []byte("urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"))
}

// Parse parses UBL XML into ExtractedInvoiceData
func (a *UBLAdapter) Parse(ctx context.Context, r io.Reader) (*model.ExtractedInvoiceData, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, model.NewParseError(string(SyntaxUBL), "content", "failed to read content", err)
	}

	var inv ublInvoice
	if err := xml.Unmarshal(content, &inv); err != nil {
		return nil, model.NewParseError(string(SyntaxUBL), "xml", "failed to parse XML", err)
	}
	return a.convert(&inv), nil
}

func (a *UBLAdapter) convert(inv *ublInvoice) *model.ExtractedInvoiceData {
	out := &model.ExtractedInvoiceData{
		InvoiceNumber: inv.ID,
		InvoiceDate:   frenchDate(inv.IssueDate),
		Currency:      inv.Currency,
		Supplier:      convertUBLParty(inv.Supplier),
		Buyer:         convertUBLParty(inv.Customer),
		PaymentTerms:  paymentDays(inv.IssueDate, inv.DueDate, inv.PaymentTerms),
		Confidence:    1.0,
	}
	if inv.DueDate != "" {
		out.DueDate = frenchDate(inv.DueDate)
	}

	var tax string
	for _, t := range inv.TaxTotals {
		if t.Currency == "" || t.Currency == inv.Currency {
			tax = t.Value
			break
		}
	}
	out.TotalExclVAT = amount(out, "TaxExclusiveAmount", inv.Monetary.TaxExclusive)
	out.VATAmount = amount(out, "TaxAmount", tax)
	out.TotalInclVAT = amount(out, "TaxInclusiveAmount", inv.Monetary.TaxInclusive)

	for _, line := range inv.Lines {
		out.LineItems = append(out.LineItems, model.LineItem{
			Description: line.Name,
			Quantity:    decimalOrZero(line.Quantity),
			UnitPrice:   decimalOrZero(line.Price),
			VATRate:     percent(line.VATRate),
		})
	}
	return out
}

func convertUBLParty(p ublParty) model.Party {
	name := p.LegalName
	if name == "" {
		name = p.Name
	}
	ids := append([]identifier{p.EndpointID, p.LegalCompanyID}, p.Identifications...)
	return model.Party{
		Name:      name,
		Address:   joinNonEmpty(", ", p.Street, p.Additional, joinNonEmpty(" ", p.PostalZone, p.City)),
		SIRET:     siretFrom(ids...),
		VATNumber: vatFrom(p.TaxCompanyIDs...),
	}
}
