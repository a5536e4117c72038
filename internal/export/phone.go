package export

import (
	"strings"
	"unicode"

	"github.com/JakeFAU/places-search/internal/geo"
)

// DefaultCallingCode is used when the location names no known country.
const DefaultCallingCode = "55"

var callingCodes = []struct {
	code  string
	names []string
}{
	{"351", []string{"portugal"}},
	{"54", []string{"argentina"}},
	{"56", []string{"chile"}},
	{"57", []string{"colombia", "colômbia"}},
	{"598", []string{"uruguay", "uruguai"}},
	{"595", []string{"paraguay", "paraguai"}},
	{"51", []string{"peru"}},
	{"52", []string{"mexico", "méxico"}},
	{"34", []string{"spain", "espanha", "españa"}},
	{"1", []string{"usa", "united states", "estados unidos", "eua", "canada", "canadá"}},
	{"44", []string{"united kingdom", "reino unido", "england", "inglaterra"}},
}

// InferCallingCode guesses the country calling code for phones found when
// searching location. It does not consult the classifier: a location is
// matched word by word against a short list of country names.
func InferCallingCode(location string) string {
	text := " " + words(location) + " "
	for _, entry := range callingCodes {
		for _, name := range entry.names {
			if strings.Contains(text, " "+words(name)+" ") {
				return entry.code
			}
		}
	}
	return DefaultCallingCode
}

// IntlPhone formats phone as +<code><digits>. Numbers already written with a
// leading "+" keep their own country code; blank input yields "".
func IntlPhone(phone, code string) string {
	trimmed := strings.TrimSpace(phone)
	var digits strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if d == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "+") {
		return "+" + d
	}
	if strings.HasPrefix(d, "00") {
		return "+" + strings.TrimLeft(d, "0")
	}
	d = strings.TrimLeft(d, "0")
	if strings.HasPrefix(d, code) && len(d) > 11 {
		return "+" + d
	}
	return "+" + code + d
}

// words normalizes s and turns punctuation into word breaks.
func words(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, geo.Normalize(s))
	return strings.Join(strings.Fields(cleaned), " ")
}
