// Package lead holds lead normalization and scoring.
package lead

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// DedupKey derives a stable identity key for a discovered business so the
// same place found through different providers collapses to one lead.
// Priority: phone, then website domain, then normalized name+address. When
// none are usable the key is unique per call, so the lead is never merged.
func DedupKey(phone, website, name, address string) string {
	if phone != "" {
		digits := digitsOnly(phone)
		if len(digits) >= 10 {
			return "phone_" + digits[len(digits)-10:]
		}
	}

	if website != "" {
		if domain := normalizeDomain(website); domain != "" {
			return "domain_" + domain
		}
	}

	if name != "" && address != "" {
		nameNorm := alnumLower(name)
		addrNorm := alnumLower(address)
		if len(addrNorm) > 20 {
			addrNorm = addrNorm[:20]
		}
		return "name_addr_" + nameNorm + "_" + addrNorm
	}

	return fmt.Sprintf("fallback_%d_%s", time.Now().UnixMilli(), uuid.New().String()[:8])
}

// digitsOnly strips everything except ASCII digits.
func digitsOnly(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// alnumLower lowercases and strips everything except a-z and 0-9.
func alnumLower(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// normalizeDomain extracts a lowercase hostname without the www prefix.
// Returns "" when the website value cannot be parsed as a URL.
func normalizeDomain(website string) string {
	raw := website
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// NormalizePhone formats a phone number to E.164-ish form for dialing: digits
// only with a leading +, assuming US numbers when no country code is present.
func NormalizePhone(phone string) string {
	digits := digitsOnly(phone)
	switch {
	case digits == "":
		return ""
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits
	default:
		return "+" + digits
	}
}

// CleanName collapses whitespace runs and trims a business name.
func CleanName(name string) string {
	fields := strings.FieldsFunc(name, unicode.IsSpace)
	return strings.Join(fields, " ")
}
