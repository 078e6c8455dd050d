package whitelist

import (
	"strings"

	"go.uber.org/zap"
)

// Checker answers whether a sender domain is protected from cleanup.
// Protected domains are never proposed for trashing no matter how they score.
type Checker struct {
	domains map[string]bool
	logger  *zap.Logger
}

// NewChecker creates a checker over the configured protected domains.
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	normalized := make(map[string]bool, len(domains))
	for _, domain := range domains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain != "" {
			normalized[domain] = true
		}
	}

	if len(normalized) > 0 && logger != nil {
		logger.Info("Initialized protected domain list", zap.Int("domains", len(normalized)))
	}

	return &Checker{
		domains: normalized,
		logger:  logger,
	}
}

// IsProtected reports whether the domain, or any parent domain, is protected.
// A protected "example.com" also covers "mail.example.com".
func (c *Checker) IsProtected(domain string) bool {
	if len(c.domains) == 0 {
		return false
	}

	domain = strings.ToLower(strings.TrimSpace(domain))
	for domain != "" {
		if c.domains[domain] {
			if c.logger != nil {
				c.logger.Debug("Domain is protected", zap.String("domain", domain))
			}
			return true
		}
		idx := strings.Index(domain, ".")
		if idx < 0 {
			break
		}
		domain = domain[idx+1:]
	}
	return false
}
