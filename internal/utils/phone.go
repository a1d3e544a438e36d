package utils

import "strings"

const (
	minFaxDigits = 10
	maxFaxDigits = 15
)

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidFaxNumber accepts numbers with 10 to 15 digits once punctuation is removed.
func ValidFaxNumber(s string) bool {
	n := len(digitsOnly(s))
	return n >= minFaxDigits && n <= maxFaxDigits
}

// NormalizeFaxNumber returns the dialable form of s. Ten digit numbers are
// assumed to be US numbers and get the country code prepended.
func NormalizeFaxNumber(s string) string {
	d := digitsOnly(s)
	if len(d) == minFaxDigits {
		return "1" + d
	}
	return d
}

// FaxNumberKey is the last ten digits of s, used to compare numbers that may
// or may not carry a country code.
func FaxNumberKey(s string) string {
	d := digitsOnly(s)
	if len(d) > minFaxDigits {
		return d[len(d)-minFaxDigits:]
	}
	return d
}

// SameFaxNumber compares two numbers by their last ten digits.
func SameFaxNumber(a, b string) bool {
	ka, kb := FaxNumberKey(a), FaxNumberKey(b)
	return ka != "" && ka == kb
}
