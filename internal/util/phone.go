package util

import "strings"

// callingCodes maps ISO 3166-1 alpha-2 country codes to their international
// calling code digits. Only markets the service operates in are listed;
// unknown countries fall through to the numeric form of the code itself.
var callingCodes = map[string]string{
	"IN": "91",
	"US": "1",
	"CA": "1",
	"GB": "44",
	"AU": "61",
	"SG": "65",
	"AE": "971",
	"DE": "49",
	"FR": "33",
	"BR": "55",
	"JP": "81",
	"NG": "234",
}

// minNationalDigits is the shortest national significant number we accept.
// A calling-code prefix is only stripped when at least this many digits
// remain, so numbers that merely start with the same digits survive.
const minNationalDigits = 10

// CallingCode resolves a country identifier ("IN", "91", "+91") to calling
// code digits. Empty input yields an empty code.
func CallingCode(countryCode string) string {
	cc := strings.TrimSpace(strings.ToUpper(countryCode))
	cc = strings.TrimPrefix(cc, "+")
	if code, ok := callingCodes[cc]; ok {
		return code
	}
	if isDigits(cc) {
		return cc
	}
	return ""
}

// NormalizePhone reduces a phone number to its national digits: every
// non-digit is dropped, an international "00" prefix is dropped, and the
// calling code of the supplied country is stripped when enough digits
// remain. The function is idempotent: normalizing an already-normalized
// number returns it unchanged.
func NormalizePhone(phone, countryCode string) string {
	digits := onlyDigits(phone)

	if strings.HasPrefix(digits, "00") && len(digits) > minNationalDigits {
		digits = digits[2:]
	}

	code := CallingCode(countryCode)
	if code != "" && strings.HasPrefix(digits, code) && len(digits)-len(code) >= minNationalDigits {
		digits = digits[len(code):]
	}

	return digits
}

// MaskPhone hides all but the last four digits for logs and user summaries.
func MaskPhone(phone string) string {
	digits := onlyDigits(phone)
	if len(digits) <= 4 {
		return digits
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
