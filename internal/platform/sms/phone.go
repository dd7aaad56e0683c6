package sms

import (
	"errors"
	"strings"
)

var ErrInvalidPhone = errors.New("invalid Philippine mobile number")

// NormalizePH converts the accepted Philippine mobile formats (09XXXXXXXXX,
// 9XXXXXXXXX, 639XXXXXXXXX, +639XXXXXXXXX) to E.164 (+639XXXXXXXXX).
// Spaces, dashes, dots and parentheses are ignored.
func NormalizePH(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", ErrInvalidPhone
		}
	}
	digits := b.String()

	var local string
	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, "639"):
		local = digits[2:]
	case len(digits) == 11 && strings.HasPrefix(digits, "09"):
		local = digits[1:]
	case len(digits) == 10 && strings.HasPrefix(digits, "9"):
		local = digits
	default:
		return "", ErrInvalidPhone
	}
	if strings.HasPrefix(raw, "+") && !strings.HasPrefix(digits, "63") {
		return "", ErrInvalidPhone
	}
	return "+63" + local, nil
}

// MaskPhone hides all but the last four digits for logging.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
