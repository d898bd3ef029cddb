package xml

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rezonia/facturx-gateway/internal/model"
	"github.com/rezonia/facturx-gateway/internal/validator"
)

// ISO 6523 ICD codes used by French identifiers
const (
	schemeSIRET = "0009"
	schemeSIREN = "0002"
)

var termsDaysPattern = regexp.MustCompile(`(?i)(\d{1,3})\s*(?:jours|days|j\b)`)

// amount parses an optional amount, recording an issue when it is malformed
func amount(inv *model.ExtractedInvoiceData, field, s string) *decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		inv.AddIssue(fmt.Sprintf("%s: montant illisible %q", field, s))
		return nil
	}
	return &d
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func percent(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

// frenchDate converts YYYYMMDD (CII format 102) or YYYY-MM-DD into DD/MM/YYYY.
// Unknown layouts are returned unchanged so validation reports them.
func frenchDate(s string) string {
	s = strings.TrimSpace(s)
	if t, ok := parseXMLDate(s); ok {
		return t.Format(validator.FrenchDateLayout)
	}
	return s
}

func parseXMLDate(s string) (time.Time, bool) {
	for _, layout := range []string{"20060102", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// paymentDays derives payment terms from issue and due dates, falling back
// to a "30 jours" style note.
func paymentDays(issue, due, note string) *int {
	if i, ok := parseXMLDate(strings.TrimSpace(issue)); ok {
		if d, ok := parseXMLDate(strings.TrimSpace(due)); ok && !d.Before(i) {
			days := int(d.Sub(i).Hours() / 24)
			return &days
		}
	}
	if m := termsDaysPattern.FindStringSubmatch(note); m != nil {
		days, _ := strconv.Atoi(m[1])
		return &days
	}
	return nil
}

// identifier is a value qualified by an ISO 6523 scheme
type identifier struct {
	Value    string `xml:",chardata"`
	SchemeID string `xml:"schemeID,attr"`
}

// siretFrom returns the first 14-digit SIRET among ids. Unqualified ids are
// accepted when they look like a SIRET.
func siretFrom(ids ...identifier) string {
	for _, id := range ids {
		v := validator.NormalizeSIRET(id.Value)
		if len(v) != validator.SIRETLength {
			continue
		}
		if id.SchemeID == schemeSIRET || id.SchemeID == "" {
			return v
		}
	}
	return ""
}

func vatFrom(values ...string) string {
	for _, v := range values {
		n := validator.NormalizeVATNumber(v)
		if strings.HasPrefix(n, "FR") {
			return n
		}
	}
	return ""
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
