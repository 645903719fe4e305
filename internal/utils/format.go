package utils

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slugify turns a listing title into a URL-safe slug: accents are folded
// ("Casa sul lago di Como – più bella" -> "casa-sul-lago-di-como-piu-bella"),
// everything that is not a letter or digit collapses into a single dash.
func Slugify(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// NormalizePhone strips separators from an Italian phone number and adds the
// +39 country prefix when missing.  It returns "" for input without digits.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	switch {
	case d == "":
		return ""
	case strings.HasPrefix(raw, "+"):
		return "+" + d
	case strings.HasPrefix(d, "0039"):
		return "+" + d[2:]
	case strings.HasPrefix(d, "39") && len(d) > 10:
		return "+" + d
	default:
		return "+39" + d
	}
}

// FormatDate renders t in the day/month/year form used on listing pages.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("02/01/2006")
}
