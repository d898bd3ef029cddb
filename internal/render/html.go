package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/shopspring/decimal"

	money "github.com/rezonia/facturx-gateway/internal/decimal"
	"github.com/rezonia/facturx-gateway/internal/model"
)

var invoiceTemplate = template.Must(template.New("facture").Funcs(template.FuncMap{
	"eur": formatAmount,
	"rate": func(r float64) string {
		return strings.Replace(formatRate(r), ".", ",", 1) + " %"
	},
}).Parse(htmlTemplate))

type htmlView struct {
	Invoice  *model.ExtractedInvoiceData
	Currency string
	Excl     decimal.Decimal
	VAT      decimal.Decimal
	Incl     decimal.Decimal
	Taxes    []vatBreakdown
}

// HTML renders a printable French invoice
func HTML(inv *model.ExtractedInvoiceData) (string, error) {
	if inv == nil {
		return "", ErrIncomplete
	}
	excl, vat, incl := totals(inv)

	var buf bytes.Buffer
	if err := invoiceTemplate.Execute(&buf, htmlView{
		Invoice:  inv,
		Currency: inv.CurrencyOrDefault(),
		Excl:     excl,
		VAT:      vat,
		Incl:     incl,
		Taxes:    taxBreakdown(inv.LineItems),
	}); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}

// formatAmount writes 1850.5 as "1 850,50"
func formatAmount(d decimal.Decimal) string {
	s := money.FormatEUR(d)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	out := b.String() + "," + frac
	if neg {
		return "-" + out
	}
	return out
}

// Fields in French because the document is legal-facing
const htmlTemplate = `<!doctype html>
<html lang="fr">
<head>
  <meta charset="utf-8" />
  <title>Facture {{.Invoice.InvoiceNumber}}</title>
  <style>
    body { font-family: 'Helvetica Neue', Arial, sans-serif; margin: 24px; color: #0f172a; }
    h1 { margin: 0 0 8px; }
    .meta { display: flex; justify-content: space-between; margin-bottom: 16px; }
    .row { display: flex; gap: 12px; }
    .col { flex: 1; border: 1px solid #e2e8f0; border-radius: 8px; padding: 12px; }
    .label { font-size: 12px; color: #475569; }
    .value { font-size: 14px; margin-bottom: 4px; }
    table { width: 100%; border-collapse: collapse; margin-top: 12px; }
    th, td { padding: 8px; border-bottom: 1px solid #e2e8f0; text-align: left; }
    th { background: #f8fafc; }
    .num { text-align: right; }
  </style>
</head>
<body>
  <div class="meta">
    <h1>Facture n° {{.Invoice.InvoiceNumber}}</h1>
    <div style="text-align:right">
      <div class="label">Date de facture</div>
      <div class="value">{{.Invoice.InvoiceDate}}</div>
      {{- if .Invoice.DueDate}}
      <div class="label">Date d'échéance</div>
      <div class="value">{{.Invoice.DueDate}}</div>
      {{- end}}
    </div>
  </div>

  <div class="row">
    {{- with .Invoice.Supplier}}
    <div class="col">
      <div class="label">Fournisseur</div>
      <div class="value">{{.Name}}</div>
      <div class="value">{{.Address}}</div>
      {{- if .SIRET}}<div class="value">SIRET : {{.SIRET}}</div>{{end}}
      {{- if .VATNumber}}<div class="value">TVA intracommunautaire : {{.VATNumber}}</div>{{end}}
    </div>
    {{- end}}
    {{- with .Invoice.Buyer}}
    <div class="col">
      <div class="label">Client</div>
      <div class="value">{{.Name}}</div>
      <div class="value">{{.Address}}</div>
      {{- if .SIRET}}<div class="value">SIRET : {{.SIRET}}</div>{{end}}
      {{- if .VATNumber}}<div class="value">TVA intracommunautaire : {{.VATNumber}}</div>{{end}}
    </div>
    {{- end}}
  </div>

  <table>
    <thead>
      <tr><th>Désignation</th><th class="num">Quantité</th><th class="num">Prix unitaire HT</th><th class="num">TVA</th><th class="num">Montant HT</th></tr>
    </thead>
    <tbody>
    {{- range .Invoice.LineItems}}
      <tr>
        <td>{{.Description}}</td>
        <td class="num">{{.Quantity.String}}</td>
        <td class="num">{{eur .UnitPrice}}</td>
        <td class="num">{{rate .VATRate}}</td>
        <td class="num">{{eur .AmountExclVAT}}</td>
      </tr>
    {{- end}}
    </tbody>
  </table>

  <table style="width:auto; margin-left:auto;">
    <tr><td>Total HT</td><td class="num">{{eur .Excl}} {{.Currency}}</td></tr>
    {{- range .Taxes}}
    <tr><td>TVA {{rate .Rate}}</td><td class="num">{{eur .Tax}}</td></tr>
    {{- end}}
    <tr><td>Total TVA</td><td class="num">{{eur .VAT}} {{.Currency}}</td></tr>
    <tr><th>Total TTC</th><th class="num">{{eur .Incl}} {{.Currency}}</th></tr>
  </table>

  {{- if .Invoice.PaymentTerms}}
  <p class="label">Conditions de paiement : {{.Invoice.PaymentTerms}} jours. Pénalités de retard au taux légal, indemnité forfaitaire pour frais de recouvrement de 40 €.</p>
  {{- end}}
</body>
</html>
`
