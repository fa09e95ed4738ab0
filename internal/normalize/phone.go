package normalize

import "strings"

// ParsePhone formats Korean phone numbers as "010-1234-5678". A leading
// +82 country code becomes the domestic 0 prefix. Input that does not
// reduce to 10 or 11 digits starting with 0 is returned trimmed.
func ParsePhone(raw string) string {
	s := clean(raw)
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "82") && (strings.HasPrefix(s, "+82") || strings.HasPrefix(s, "82")) {
		digits = strings.TrimPrefix(digits, "82")
		// "+82 010-..." keeps its trunk zero.
		if !strings.HasPrefix(digits, "0") {
			digits = "0" + digits
		}
	}
	if !strings.HasPrefix(digits, "0") {
		return s
	}
	switch len(digits) {
	case 11:
		return digits[:3] + "-" + digits[3:7] + "-" + digits[7:]
	case 10:
		if strings.HasPrefix(digits, "02") {
			return digits[:2] + "-" + digits[2:6] + "-" + digits[6:]
		}
		return digits[:3] + "-" + digits[3:6] + "-" + digits[6:]
	case 9:
		if strings.HasPrefix(digits, "02") {
			return digits[:2] + "-" + digits[2:5] + "-" + digits[5:]
		}
	}
	return s
}

// PhoneDigits returns only the digits of a formatted number; it is the
// identity key used to detect the same person across registrations.
func PhoneDigits(raw string) string {
	formatted := ParsePhone(raw)
	var b strings.Builder
	for _, r := range formatted {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
