package validator

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	SIRETLength = 14
	SIRENLength = 9
	vatLength   = 13 // FR + 2-digit key + SIREN
)

// NormalizeSIRET strips whitespace and hyphens
func NormalizeSIRET(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '-', '\u00a0':
			return -1
		}
		return r
	}, s)
}

// NormalizeVATNumber strips whitespace and upper-cases the country prefix
func NormalizeVATNumber(s string) string {
	return strings.ToUpper(NormalizeSIRET(s))
}

// SIRENFromSIRET returns the first 9 digits of a normalized SIRET
func SIRENFromSIRET(siret string) (string, bool) {
	siret = NormalizeSIRET(siret)
	if len(siret) != SIRETLength || !allDigits(siret) {
		return "", false
	}
	return siret[:SIRENLength], true
}

// VATKey computes the French VAT key (12 + 3 × (SIREN mod 97)) mod 97
func VATKey(siren string) (int, bool) {
	if len(siren) != SIRENLength || !allDigits(siren) {
		return 0, false
	}
	n, err := strconv.Atoi(siren)
	if err != nil {
		return 0, false
	}
	return (12 + 3*(n%97)) % 97, true
}

// SuggestVATNumber builds the intra-community VAT number of a SIREN.
// Returns false when the SIREN itself does not validate.
func SuggestVATNumber(siren string) (string, bool) {
	if !IsValidSIREN(siren) {
		return "", false
	}
	key, _ := VATKey(siren)
	return fmt.Sprintf("FR%02d%s", key, siren), true
}

// CompleteSIRET appends the check digit to a 13-digit SIRET payload
func CompleteSIRET(payload string) (string, bool) {
	payload = NormalizeSIRET(payload)
	if len(payload) != SIRETLength-1 || !allDigits(payload) {
		return "", false
	}
	return payload + string(luhnCheckDigit(payload)), true
}

// splitVAT returns key and SIREN of a well-formed FR VAT number
func splitVAT(s string) (key, siren string, ok bool) {
	s = NormalizeVATNumber(s)
	if len(s) != vatLength || !strings.HasPrefix(s, "FR") {
		return "", "", false
	}
	rest := s[2:]
	if !allDigits(rest) {
		return "", "", false
	}
	return rest[:2], rest[2:], true
}
