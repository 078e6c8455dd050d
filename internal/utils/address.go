package utils

import (
	"net/mail"
	"strings"
)

// ParseFrom splits an RFC 5322 From header into display name and address.
// Addresses come back lowercased. Malformed headers fall back to any bare
// address-looking token, then to the trimmed raw value, so grouping always
// has a stable key.
func ParseFrom(fromHeader string) (name, email string) {
	raw := strings.TrimSpace(fromHeader)
	if raw == "" {
		return "", ""
	}

	if addr, err := mail.ParseAddress(raw); err == nil {
		return strings.TrimSpace(addr.Name), strings.ToLower(strings.TrimSpace(addr.Address))
	}

	// Salvage a bare address token from headers net/mail rejects.
	for _, tok := range strings.Fields(raw) {
		tok = strings.Trim(tok, "<>\",;")
		if strings.Count(tok, "@") == 1 && len(tok) > 2 {
			return "", strings.ToLower(tok)
		}
	}
	return "", strings.ToLower(raw)
}
