// Package authz decides which authenticated users may complete a login.
package authz

import (
	"strings"

	"github.com/ideamans/plugingate/pkg/config"
)

// Checker is an interface for authorization checking
type Checker interface {
	// Restricted reports whether an allowlist is configured. If false,
	// authentication alone is sufficient.
	Restricted() bool

	// IsAllowed checks if an email address is authorized.
	IsAllowed(email string) bool
}

// EmailChecker checks authorization against an allowlist of addresses and
// "@domain" entries.
type EmailChecker struct {
	allowedEmails  map[string]bool
	allowedDomains []string
}

// NewEmailChecker creates a new EmailChecker from configuration
func NewEmailChecker(cfg config.AuthorizationConfig) *EmailChecker {
	c := &EmailChecker{allowedEmails: make(map[string]bool)}
	for _, entry := range cfg.Allowed {
		entry = strings.ToLower(strings.TrimSpace(entry))
		switch {
		case entry == "":
		case strings.HasPrefix(entry, "@"):
			c.allowedDomains = append(c.allowedDomains, entry)
		default:
			c.allowedEmails[entry] = true
		}
	}
	return c
}

func (c *EmailChecker) Restricted() bool {
	return len(c.allowedEmails) > 0 || len(c.allowedDomains) > 0
}

// IsAllowed always returns true when no allowlist is configured.
func (c *EmailChecker) IsAllowed(email string) bool {
	if !c.Restricted() {
		return true
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if c.allowedEmails[email] {
		return true
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" {
		return false
	}
	domain := "@" + parts[1]
	for _, allowed := range c.allowedDomains {
		if domain == allowed {
			return true
		}
	}
	return false
}
