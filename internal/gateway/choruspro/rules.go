package choruspro

import (
	"fmt"
	"strings"

	"github.com/rezonia/facturx-gateway/internal/model"
)

// Violation is one failed rule
type Violation struct {
	Field   string
	Message string
}

// CheckRules compares a request with the advertised rules
func CheckRules(req *model.TransmissionRequest, rules Rules) []Violation {
	var out []Violation

	if !rules.MaxAmount.IsZero() && req.Metadata.Total.GreaterThan(rules.MaxAmount) {
		out = append(out, Violation{
			Field:   "montantTTC",
			Message: fmt.Sprintf("montant %s supérieur au maximum autorisé %s", req.Metadata.Total.StringFixed(2), rules.MaxAmount.StringFixed(2)),
		})
	}

	currency := currencyOf(req)
	if len(rules.Currencies) > 0 && !containsFold(rules.Currencies, currency) {
		out = append(out, Violation{
			Field:   "devise",
			Message: fmt.Sprintf("devise %s non acceptée", currency),
		})
	}

	files := []struct {
		field  string
		format string
		size   int
	}{
		{"fichierFacture", "PDF", len(req.HybridDocument)},
		{"fichierXml", "XML", len(req.XMLContent)},
	}
	for _, f := range files {
		if f.size == 0 {
			continue
		}
		if len(rules.Formats) > 0 && !containsFold(rules.Formats, f.format) {
			out = append(out, Violation{Field: f.field, Message: fmt.Sprintf("format %s non accepté", f.format)})
		}
		if rules.MaxFileSize > 0 && int64(f.size) > rules.MaxFileSize {
			out = append(out, Violation{
				Field:   f.field,
				Message: fmt.Sprintf("fichier de %d octets au-delà de la taille maximale %d", f.size, rules.MaxFileSize),
			})
		}
	}

	for _, name := range rules.MandatoryFields {
		if present, known := mandatoryField(req, name); known && !present {
			out = append(out, Violation{Field: name, Message: fmt.Sprintf("champ obligatoire %s manquant", name)})
		}
	}
	return out
}

// mandatoryField reports whether a server-named field is filled.
// known is false for names this adapter does not send.
func mandatoryField(req *model.TransmissionRequest, name string) (present, known bool) {
	switch name {
	case "idFournisseur":
		return req.SenderSIRET != "", true
	case "idDestinataire":
		return req.RecipientSIRET != "", true
	case "numeroFacture":
		return req.Metadata.Number != "", true
	case "dateFacture":
		return req.Metadata.Date != "", true
	case "montantTTC":
		return true, true
	case "devise":
		return req.Metadata.Currency != "", true
	case "fichierFacture":
		return len(req.HybridDocument) > 0, true
	case "fichierXml":
		return req.XMLContent != "", true
	}
	return false, false
}

func containsFold(values []string, v string) bool {
	for _, x := range values {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}
