// Package render produces the transmittable artifacts of an invoice: the
// Factur-X CII XML, a printable HTML view, and the hybrid PDF that carries both.
package render

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	money "github.com/rezonia/facturx-gateway/internal/decimal"
	"github.com/rezonia/facturx-gateway/internal/model"
	"github.com/rezonia/facturx-gateway/internal/validator"
)

// Factur-X namespaces and profile
const (
	NSRsm = "urn:un:unece:uncefact:data:standard:CrossIndustryInvoice:100"
	NSRam = "urn:un:unece:uncefact:data:standard:ReusableAggregateBusinessInformationEntity:100"
	NSUdt = "urn:un:unece:uncefact:data:standard:UnqualifiedDataType:100"
	NSQdt = "urn:un:unece:uncefact:data:standard:QualifiedDataType:100"

	GuidelineEN16931 = "urn:cen.eu:en16931:2017"

	typeCodeInvoice = "380"
	dateFormat102   = "102"
	unitCodePiece   = "C62"
)

// ErrIncomplete is returned when the invoice lacks what a CII document cannot omit
var ErrIncomplete = errors.New("invoice number, invoice date and supplier name are required to render")

// CII renders the invoice as a Factur-X EN 16931 CrossIndustryInvoice
func CII(inv *model.ExtractedInvoiceData) ([]byte, error) {
	doc, err := CIIDocument(inv)
	if err != nil {
		return nil, err
	}
	doc.Indent(2)
	return doc.WriteToBytes()
}

// CIIDocument builds the CII tree without serializing it
func CIIDocument(inv *model.ExtractedInvoiceData) (*etree.Document, error) {
	if inv == nil || inv.InvoiceNumber == "" || inv.Supplier.Name == "" {
		return nil, ErrIncomplete
	}
	issue, ok := validator.ParseFrenchDate(inv.InvoiceDate)
	if !ok {
		return nil, ErrIncomplete
	}

	currency := inv.CurrencyOrDefault()

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("rsm:CrossIndustryInvoice")
	root.CreateAttr("xmlns:rsm", NSRsm)
	root.CreateAttr("xmlns:ram", NSRam)
	root.CreateAttr("xmlns:udt", NSUdt)
	root.CreateAttr("xmlns:qdt", NSQdt)

	root.CreateElement("rsm:ExchangedDocumentContext").
		CreateElement("ram:GuidelineSpecifiedDocumentContextParameter").
		CreateElement("ram:ID").SetText(GuidelineEN16931)

	exchanged := root.CreateElement("rsm:ExchangedDocument")
	exchanged.CreateElement("ram:ID").SetText(inv.InvoiceNumber)
	exchanged.CreateElement("ram:TypeCode").SetText(typeCodeInvoice)
	dateTime(exchanged.CreateElement("ram:IssueDateTime"), issue)

	tx := root.CreateElement("rsm:SupplyChainTradeTransaction")
	for i, line := range inv.LineItems {
		writeLine(tx, i+1, line)
	}

	agreement := tx.CreateElement("ram:ApplicableHeaderTradeAgreement")
	writeParty(agreement.CreateElement("ram:SellerTradeParty"), inv.Supplier)
	writeParty(agreement.CreateElement("ram:BuyerTradeParty"), inv.Buyer)

	tx.CreateElement("ram:ApplicableHeaderTradeDelivery")

	settlement := tx.CreateElement("ram:ApplicableHeaderTradeSettlement")
	settlement.CreateElement("ram:InvoiceCurrencyCode").SetText(currency)

	for _, b := range taxBreakdown(inv.LineItems) {
		tax := settlement.CreateElement("ram:ApplicableTradeTax")
		tax.CreateElement("ram:CalculatedAmount").SetText(money.FormatEUR(b.Tax))
		tax.CreateElement("ram:TypeCode").SetText("VAT")
		tax.CreateElement("ram:BasisAmount").SetText(money.FormatEUR(b.Basis))
		tax.CreateElement("ram:CategoryCode").SetText(categoryCode(b.Rate))
		tax.CreateElement("ram:RateApplicablePercent").SetText(formatRate(b.Rate))
	}

	if terms := paymentTerms(inv, issue); terms != nil {
		settlement.AddChild(terms)
	}

	excl, vat, incl := totals(inv)
	sum := settlement.CreateElement("ram:SpecifiedTradeSettlementHeaderMonetarySummation")
	sum.CreateElement("ram:LineTotalAmount").SetText(money.FormatEUR(lineTotal(inv, excl)))
	sum.CreateElement("ram:TaxBasisTotalAmount").SetText(money.FormatEUR(excl))
	taxTotal := sum.CreateElement("ram:TaxTotalAmount")
	taxTotal.CreateAttr("currencyID", currency)
	taxTotal.SetText(money.FormatEUR(vat))
	sum.CreateElement("ram:GrandTotalAmount").SetText(money.FormatEUR(incl))
	sum.CreateElement("ram:DuePayableAmount").SetText(money.FormatEUR(incl))

	return doc, nil
}

func dateTime(parent *etree.Element, t time.Time) {
	el := parent.CreateElement("udt:DateTimeString")
	el.CreateAttr("format", dateFormat102)
	el.SetText(t.Format("20060102"))
}

func writeLine(tx *etree.Element, n int, line model.LineItem) {
	item := tx.CreateElement("ram:IncludedSupplyChainTradeLineItem")
	item.CreateElement("ram:AssociatedDocumentLineDocument").
		CreateElement("ram:LineID").SetText(strconv.Itoa(n))
	item.CreateElement("ram:SpecifiedTradeProduct").
		CreateElement("ram:Name").SetText(line.Description)
	item.CreateElement("ram:SpecifiedLineTradeAgreement").
		CreateElement("ram:NetPriceProductTradePrice").
		CreateElement("ram:ChargeAmount").SetText(line.UnitPrice.String())

	qty := item.CreateElement("ram:SpecifiedLineTradeDelivery").CreateElement("ram:BilledQuantity")
	qty.CreateAttr("unitCode", unitCodePiece)
	qty.SetText(line.Quantity.String())

	settlement := item.CreateElement("ram:SpecifiedLineTradeSettlement")
	tax := settlement.CreateElement("ram:ApplicableTradeTax")
	tax.CreateElement("ram:TypeCode").SetText("VAT")
	tax.CreateElement("ram:CategoryCode").SetText(categoryCode(line.VATRate))
	tax.CreateElement("ram:RateApplicablePercent").SetText(formatRate(line.VATRate))
	settlement.CreateElement("ram:SpecifiedTradeSettlementLineMonetarySummation").
		CreateElement("ram:LineTotalAmount").SetText(money.FormatEUR(line.AmountExclVAT()))
}

func writeParty(el *etree.Element, p model.Party) {
	el.CreateElement("ram:Name").SetText(p.Name)
	if p.SIRET != "" {
		id := el.CreateElement("ram:SpecifiedLegalOrganization").CreateElement("ram:ID")
		id.CreateAttr("schemeID", "0009")
		id.SetText(p.SIRET)
	}
	if p.Address != "" {
		addr := el.CreateElement("ram:PostalTradeAddress")
		addr.CreateElement("ram:LineOne").SetText(p.Address)
		addr.CreateElement("ram:CountryID").SetText("FR")
	}
	if p.VATNumber != "" {
		id := el.CreateElement("ram:SpecifiedTaxRegistration").CreateElement("ram:ID")
		id.CreateAttr("schemeID", "VA")
		id.SetText(p.VATNumber)
	}
}

func paymentTerms(inv *model.ExtractedInvoiceData, issue time.Time) *etree.Element {
	due, hasDue := validator.ParseFrenchDate(inv.DueDate)
	if !hasDue && inv.PaymentTerms != nil {
		due, hasDue = issue.AddDate(0, 0, *inv.PaymentTerms), true
	}
	if !hasDue && inv.PaymentTerms == nil {
		return nil
	}

	terms := etree.NewElement("ram:SpecifiedTradePaymentTerms")
	if inv.PaymentTerms != nil {
		terms.CreateElement("ram:Description").SetText("Paiement à " + strconv.Itoa(*inv.PaymentTerms) + " jours")
	}
	if hasDue {
		dateTime(terms.CreateElement("ram:DueDateDateTime"), due)
	}
	return terms
}

type vatBreakdown struct {
	Rate  float64
	Basis decimal.Decimal
	Tax   decimal.Decimal
}

// taxBreakdown groups line amounts by VAT rate, highest rate first
func taxBreakdown(lines []model.LineItem) []vatBreakdown {
	byRate := make(map[float64]decimal.Decimal)
	for _, l := range lines {
		byRate[l.VATRate] = byRate[l.VATRate].Add(l.AmountExclVAT())
	}

	out := make([]vatBreakdown, 0, len(byRate))
	for rate, basis := range byRate {
		out = append(out, vatBreakdown{Rate: rate, Basis: basis, Tax: money.CalculateVAT(basis, rate)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rate > out[j].Rate })
	return out
}

// totals prefers extracted totals and derives the missing ones from lines
func totals(inv *model.ExtractedInvoiceData) (excl, vat, incl decimal.Decimal) {
	if inv.TotalExclVAT != nil {
		excl = *inv.TotalExclVAT
	} else {
		excl = inv.LineItemsTotal()
	}

	if inv.VATAmount != nil {
		vat = *inv.VATAmount
	} else {
		for _, b := range taxBreakdown(inv.LineItems) {
			vat = vat.Add(b.Tax)
		}
	}

	if inv.TotalInclVAT != nil {
		incl = *inv.TotalInclVAT
	} else {
		incl = excl.Add(vat)
	}
	return excl, vat, incl
}

func lineTotal(inv *model.ExtractedInvoiceData, excl decimal.Decimal) decimal.Decimal {
	if len(inv.LineItems) == 0 {
		return excl
	}
	return inv.LineItemsTotal()
}

func categoryCode(rate float64) string {
	if rate == 0 {
		return "Z"
	}
	return "S"
}

func formatRate(rate float64) string {
	return strings.TrimSuffix(strconv.FormatFloat(rate, 'f', -1, 64), ".0")
}
