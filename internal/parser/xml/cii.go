package xml

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"

	"github.com/rezonia/facturx-gateway/internal/model"
)

// Factur-X / ZUGFeRD cross industry invoice, matched on local names
type ciiInvoice struct {
	XMLName     xml.Name       `xml:"CrossIndustryInvoice"`
	Document    ciiDocument    `xml:"ExchangedDocument"`
	Transaction ciiTransaction `xml:"SupplyChainTradeTransaction"`
}

type ciiDocument struct {
	ID        string `xml:"ID"`
	TypeCode  string `xml:"TypeCode"`
	IssueDate string `xml:"IssueDateTime>DateTimeString"`
}

type ciiTransaction struct {
	Lines      []ciiLine     `xml:"IncludedSupplyChainTradeLineItem"`
	Seller     ciiParty      `xml:"ApplicableHeaderTradeAgreement>SellerTradeParty"`
	Buyer      ciiParty      `xml:"ApplicableHeaderTradeAgreement>BuyerTradeParty"`
	Settlement ciiSettlement `xml:"ApplicableHeaderTradeSettlement"`
}

type ciiParty struct {
	Name             string       `xml:"Name"`
	GlobalIDs        []identifier `xml:"GlobalID"`
	LegalID          identifier   `xml:"SpecifiedLegalOrganization>ID"`
	Address          ciiAddress   `xml:"PostalTradeAddress"`
	TaxRegistrations []identifier `xml:"SpecifiedTaxRegistration>ID"`
}

type ciiAddress struct {
	LineOne  string `xml:"LineOne"`
	LineTwo  string `xml:"LineTwo"`
	Postcode string `xml:"PostcodeCode"`
	City     string `xml:"CityName"`
	Country  string `xml:"CountryID"`
}

type ciiSettlement struct {
	Currency     string          `xml:"InvoiceCurrencyCode"`
	PaymentTerms ciiPaymentTerms `xml:"SpecifiedTradePaymentTerms"`
	Summation    ciiSummation    `xml:"SpecifiedTradeSettlementHeaderMonetarySummation"`
}

type ciiPaymentTerms struct {
	Description string `xml:"Description"`
	DueDate     string `xml:"DueDateDateTime>DateTimeString"`
}

type ciiSummation struct {
	LineTotal     string      `xml:"LineTotalAmount"`
	TaxBasisTotal string      `xml:"TaxBasisTotalAmount"`
	TaxTotals     []ciiAmount `xml:"TaxTotalAmount"`
	GrandTotal    string      `xml:"GrandTotalAmount"`
	DuePayable    string      `xml:"DuePayableAmount"`
}

type ciiAmount struct {
	Value    string `xml:",chardata"`
	Currency string `xml:"currencyID,attr"`
}

type ciiLine struct {
	Name     string `xml:"SpecifiedTradeProduct>Name"`
	NetPrice string `xml:"SpecifiedLineTradeAgreement>NetPriceProductTradePrice>ChargeAmount"`
	Quantity string `xml:"SpecifiedLineTradeDelivery>BilledQuantity"`
	VATRate  string `xml:"SpecifiedLineTradeSettlement>ApplicableTradeTax>RateApplicablePercent"`
}

// CIIAdapter parses Factur-X CrossIndustryInvoice documents
type CIIAdapter struct{}

// NewCIIAdapter creates a new CII adapter
func NewCIIAdapter() *CIIAdapter {
	return &CIIAdapter{}
}

// Syntax returns the syntax handled
func (a *CIIAdapter) Syntax() Syntax {
	return SyntaxCII
}

// CanParse checks for a CrossIndustryInvoice root
func (a *CIIAdapter) CanParse(content []byte) bool {
	return bytes.Contains(content, []byte("CrossIndustryInvoice"))
}

// Parse parses CII XML into ExtractedInvoiceData
func (a *CIIAdapter) Parse(ctx context.Context, r io.Reader) (*model.ExtractedInvoiceData, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, model.NewParseError(string(SyntaxCII), "content", "failed to read content", err)
	}

	var inv ciiInvoice
	if err := xml.Unmarshal(content, &inv); err != nil {
		return nil, model.NewParseError(string(SyntaxCII), "xml", "failed to parse XML", err)
	}
	return a.convert(&inv), nil
}

func (a *CIIAdapter) convert(inv *ciiInvoice) *model.ExtractedInvoiceData {
	tx := inv.Transaction
	st := tx.Settlement
	out := &model.ExtractedInvoiceData{
		InvoiceNumber: inv.Document.ID,
		InvoiceDate:   frenchDate(inv.Document.IssueDate),
		Currency:      st.Currency,
		Supplier:      convertCIIParty(tx.Seller),
		Buyer:         convertCIIParty(tx.Buyer),
		Confidence:    1.0,
	}
	if st.PaymentTerms.DueDate != "" {
		out.DueDate = frenchDate(st.PaymentTerms.DueDate)
	}
	out.PaymentTerms = paymentDays(inv.Document.IssueDate, st.PaymentTerms.DueDate, st.PaymentTerms.Description)

	sum := st.Summation
	basis := sum.TaxBasisTotal
	if basis == "" {
		basis = sum.LineTotal
	}
	out.TotalExclVAT = amount(out, "TaxBasisTotalAmount", basis)
	out.VATAmount = amount(out, "TaxTotalAmount", pickTaxTotal(sum.TaxTotals, st.Currency))
	out.TotalInclVAT = amount(out, "GrandTotalAmount", sum.GrandTotal)

	for _, line := range tx.Lines {
		out.LineItems = append(out.LineItems, model.LineItem{
			Description: line.Name,
			Quantity:    decimalOrZero(line.Quantity),
			UnitPrice:   decimalOrZero(line.NetPrice),
			VATRate:     percent(line.VATRate),
		})
	}

	if out.Supplier.SIRET == "" && !out.Supplier.IsEmpty() {
		out.AddIssue("SIRET fournisseur absent du document")
	}
	return out
}

// pickTaxTotal prefers the amount expressed in the invoice currency
func pickTaxTotal(totals []ciiAmount, currency string) string {
	for _, t := range totals {
		if t.Currency == "" || t.Currency == currency {
			return t.Value
		}
	}
	if len(totals) > 0 {
		return totals[0].Value
	}
	return ""
}

func convertCIIParty(p ciiParty) model.Party {
	ids := append([]identifier{p.LegalID}, p.GlobalIDs...)
	var vats []string
	for _, reg := range p.TaxRegistrations {
		if reg.SchemeID == "" || reg.SchemeID == "VA" {
			vats = append(vats, reg.Value)
		}
	}
	addr := p.Address
	return model.Party{
		Name:      p.Name,
		Address:   joinNonEmpty(", ", addr.LineOne, addr.LineTwo, joinNonEmpty(" ", addr.Postcode, addr.City)),
		SIRET:     siretFrom(ids...),
		VATNumber: vatFrom(vats...),
	}
}
