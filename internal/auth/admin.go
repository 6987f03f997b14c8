package auth

import (
	"strings"

	"github.com/sakif/docmeter/internal/model"
)

// AdminPredicate recognizes the single operator identity.
//
// There is exactly one admin, configured by email. This is not a role system:
// no per-user flags, no domain wildcards.
type AdminPredicate struct {
	adminEmail string
}

// NewAdminPredicate normalizes adminEmail once. A blank value yields a
// predicate that matches nobody.
func NewAdminPredicate(adminEmail string) *AdminPredicate {
	return &AdminPredicate{adminEmail: strings.ToLower(strings.TrimSpace(adminEmail))}
}

// IsAdmin reports whether email, after trim and lower-casing, equals the
// configured admin address. A nil email is never the admin.
func (p *AdminPredicate) IsAdmin(email *string) bool {
	if p == nil || p.adminEmail == "" {
		return false
	}
	normalized := model.NormalizeEmail(email)
	return normalized != nil && *normalized == p.adminEmail
}
