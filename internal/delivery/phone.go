// Package delivery sends reminder messages through a primary/backup pair of
// WhatsApp Cloud API gateways. It owns phone normalization, message body
// rendering, and the gateway HTTP clients.
package delivery

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Phone normalization errors.
var (
	ErrEmptyPhone   = errors.New("empty phone number")
	ErrInvalidPhone = errors.New("invalid phone number")
)

// NormalizePhone converts a locally entered Indonesian phone number into the
// international digit string the gateway expects (no '+', country code 62).
//
// Rules:
//   - strip everything that is not a digit
//   - "08…" (local mobile format) becomes "628…"
//   - bare "8…" is treated as a mobile number missing its leading zero
//   - numbers already starting with "62" are kept
//   - the result must be a mobile number (628…) of 10–15 digits
//
// Malformed input is rejected with an error, never silently mangled: a
// reminder sent to a mis-normalized number is worse than no send.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyPhone
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	phone := b.String()

	switch {
	case strings.HasPrefix(phone, "0"):
		phone = "62" + strings.TrimLeft(phone, "0")
	case strings.HasPrefix(phone, "62"):
		// already international
	case strings.HasPrefix(phone, "8"):
		phone = "62" + phone
	default:
		return "", fmt.Errorf("%w: unrecognized prefix in %q", ErrInvalidPhone, raw)
	}

	if !strings.HasPrefix(phone, "628") {
		return "", fmt.Errorf("%w: not an Indonesian mobile number", ErrInvalidPhone)
	}
	if len(phone) < 10 || len(phone) > 15 {
		return "", fmt.Errorf("%w: length %d", ErrInvalidPhone, len(phone))
	}
	return phone, nil
}
