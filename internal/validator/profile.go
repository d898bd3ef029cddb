package validator

import "strconv"

// Profile is a validation strictness level for French business identifiers.
//
// The strict profile enforces check digits and is used for data coming out of
// the automated extraction pipeline. The lenient profile checks format only,
// so manual entry is not blocked by a check-digit failure while the user is
// still typing. The zero value is the strict profile.
type Profile struct {
	name       string
	formatOnly bool
}

var (
	strictProfile  = Profile{name: "strict"}
	lenientProfile = Profile{name: "lenient", formatOnly: true}
)

// Strict returns the profile enforcing check digits
func Strict() Profile { return strictProfile }

// Lenient returns the format-only profile
func Lenient() Profile { return lenientProfile }

// ProfileByName resolves "strict" or "lenient"
func ProfileByName(name string) (Profile, bool) {
	switch name {
	case "strict", "":
		return strictProfile, true
	case "lenient":
		return lenientProfile, true
	}
	return Profile{}, false
}

// Name returns the profile name
func (p Profile) Name() string {
	if p.name == "" {
		return strictProfile.name
	}
	return p.name
}

// ChecksDigits reports whether check digits are enforced
func (p Profile) ChecksDigits() bool {
	return !p.formatOnly
}

// SIRET validates a 14-digit establishment identifier.
// Whitespace and hyphens are ignored.
func (p Profile) SIRET(s string) bool {
	s = NormalizeSIRET(s)
	if len(s) != SIRETLength || !allDigits(s) {
		return false
	}
	return p.formatOnly || luhnValid(s)
}

// SIREN validates a 9-digit company identifier
func (p Profile) SIREN(s string) bool {
	s = NormalizeSIRET(s)
	if len(s) != SIRENLength || !allDigits(s) {
		return false
	}
	return p.formatOnly || luhnValid(s)
}

// VATNumber validates a French intra-community VAT number (FR + key + SIREN)
func (p Profile) VATNumber(s string) bool {
	key, siren, ok := splitVAT(s)
	if !ok {
		return false
	}
	if p.formatOnly {
		return true
	}
	if !luhnValid(siren) {
		return false
	}
	expected, _ := VATKey(siren)
	got, err := strconv.Atoi(key)
	return err == nil && got == expected
}

// IsValidSIRET validates a SIRET with the strict profile
func IsValidSIRET(s string) bool { return strictProfile.SIRET(s) }

// IsValidSIREN validates a SIREN with the strict profile
func IsValidSIREN(s string) bool { return strictProfile.SIREN(s) }

// IsValidVATNumber validates a French VAT number with the strict profile
func IsValidVATNumber(s string) bool { return strictProfile.VATNumber(s) }
